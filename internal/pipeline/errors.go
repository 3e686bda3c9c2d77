package pipeline

import (
	"errors"
	"fmt"
)

// ErrStopRequested signals a user or OS stop. It is not a failure.
var ErrStopRequested = errors.New("stop requested")

// Startup stages in the order they run.
const (
	StageDetector = "detector"
	StageCamera   = "camera"
	StageRecorder = "recorder"
	StageDisplay  = "display"
)

// StartupError is a fatal failure while acquiring a resource during INIT.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed at %s: %v", e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// EscalationError is raised when one failure kind repeats past the threshold.
type EscalationError struct {
	Kind  FailureKind
	Count int
	Err   error
}

func (e *EscalationError) Error() string {
	return fmt.Sprintf("%d consecutive %s failures: %v", e.Count, e.Kind, e.Err)
}

func (e *EscalationError) Unwrap() error {
	return e.Err
}
