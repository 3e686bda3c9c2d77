package pipeline

import (
	"time"

	"github.com/ayusman/chilieye/internal/detector"
	"gocv.io/x/gocv"
)

// Event describes one successful inference.
type Event struct {
	SessionID string
	// FrameIndex is the 0-based index of the frame the result belongs to.
	FrameIndex int
	// Inference is the 1-based count of detector calls in this run.
	Inference int
	Time      time.Time
	// Result boxes are in source-frame pixels.
	Result detector.Result
}

// Labels returns the class label of each detection.
func (e Event) Labels() []string {
	labels := make([]string, len(e.Result.Detections))
	for i, d := range e.Result.Detections {
		labels[i] = d.Label
	}
	return labels
}

// Observer receives inference events on the loop goroutine. Errors are logged
// and never stop the loop.
type Observer interface {
	Observe(ev Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event) error

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) error {
	return f(ev)
}

// EveryN forwards only every n-th inference to next.
func EveryN(n int, next Observer) Observer {
	if n <= 1 {
		return next
	}
	return ObserverFunc(func(ev Event) error {
		if ev.Inference%n != 0 {
			return nil
		}
		return next.Observe(ev)
	})
}

// FrameSink receives every rendered frame. Implementations must copy what they keep.
type FrameSink interface {
	Publish(frame gocv.Mat)
}

// Display presents rendered frames and reports quit requests.
type Display interface {
	Show(frame gocv.Mat) bool
	Close() error
}

// Recorder persists rendered frames.
type Recorder interface {
	Write(frame gocv.Mat) error
	Frames() int
	Close() error
}
