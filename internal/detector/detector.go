// Package detector runs object detection models on letterboxed frames.
package detector

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/chilieye/internal/logger"
)

var (
	// ErrInputMismatch is returned when a frame does not match the model input size.
	ErrInputMismatch = errors.New("frame size does not match model input")
	// ErrClosed is returned when Detect is called after Close.
	ErrClosed = errors.New("detector is closed")
)

// Detector defines the interface for object detection backends.
type Detector interface {
	// Detect runs one inference on a frame of exactly InputSize pixels.
	// Box coordinates are in frame pixels.
	Detect(frame *gocv.Mat) (Result, error)

	// InputSize is the fixed resolution the model expects.
	InputSize() image.Point

	// Close releases any resources held by the detector.
	Close() error
}

// Detection is a single detected object.
type Detection struct {
	ClassID    int             `json:"class_id"`
	Label      string          `json:"class"`
	Confidence float32         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Result is the output of one inference call.
type Result struct {
	Detections []Detection
	Inference  time.Duration
}

// Empty reports whether the result has no detections.
func (r Result) Empty() bool {
	return len(r.Detections) == 0
}

// InferenceError wraps a per-frame inference failure.
type InferenceError struct {
	Message string
	Cause   error
}

func (e *InferenceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *InferenceError) Unwrap() error {
	return e.Cause
}

// Config holds configuration options for detection.
type Config struct {
	// InputSize is the square model input resolution (default: 416).
	InputSize int

	// Confidence is the minimum detection score (0.0-1.0).
	Confidence float32

	// IoU is the overlap above which NMS suppresses a box (0.0-1.0).
	IoU float32

	// Classes are the model's labels indexed by class id.
	Classes []string

	// Allowed filters detections by label. Empty keeps every class.
	Allowed []string

	// Threads is the number of interpreter threads.
	Threads int

	// ONNXLibrary is the path to the onnxruntime shared library.
	ONNXLibrary string

	// Logger receives runtime diagnostics. Nil discards them.
	Logger *logger.Logger
}

// DefaultConfig returns a Config with the values used for the chili model.
func DefaultConfig() Config {
	return Config{
		InputSize:  416,
		Confidence: 0.5,
		IoU:        0.45,
		Classes:    []string{"antraknosa", "cabai_normal", "lalat_buah"},
		Threads:    runtime.NumCPU(),
	}
}

// Label returns the class name for id, or "class_<id>" if unknown.
func (c Config) Label(id int) string {
	if id >= 0 && id < len(c.Classes) {
		return c.Classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// checkInput validates the precondition shared by every backend.
func checkInput(frame *gocv.Mat, size image.Point) error {
	if frame == nil || frame.Empty() {
		return &InferenceError{Message: "empty frame"}
	}
	if frame.Cols() != size.X || frame.Rows() != size.Y {
		return &InferenceError{
			Message: fmt.Sprintf("got %dx%d, want %dx%d", frame.Cols(), frame.Rows(), size.X, size.Y),
			Cause:   ErrInputMismatch,
		}
	}
	return nil
}
