package pipeline

// State is the lifecycle phase of a Loop.
type State int32

// Loop states. A loop moves strictly forward through them.
const (
	StateIdle State = iota
	StateInit
	StateRunning
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// StopReason records why a run ended.
type StopReason string

// Stop reasons.
const (
	StopEndOfStream StopReason = "end_of_stream"
	StopUserQuit    StopReason = "user_quit"
	StopSignal      StopReason = "signal"
	StopEscalated   StopReason = "escalated"
	StopStartup     StopReason = "startup_failed"
)

// Graceful reports whether the run ended without a failure.
func (r StopReason) Graceful() bool {
	switch r {
	case StopEndOfStream, StopUserQuit, StopSignal:
		return true
	}
	return false
}
