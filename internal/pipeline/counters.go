package pipeline

import (
	"time"

	"github.com/benbjohnson/clock"
)

// fpsWindow is the number of recent frames the FPS estimate covers.
const fpsWindow = 30

// Counters tracks the runtime state of one loop run. It is owned by the loop
// goroutine; readers get copies through Snapshot.
type Counters struct {
	clock clock.Clock

	start      time.Time
	frames     int
	inferences int
	detections int
	lastInfer  time.Duration
	perClass   map[string]int
	done       []time.Time
}

// Snapshot is a read-only copy of the counters.
type Snapshot struct {
	Frames     int
	Inferences int
	Detections int
	Elapsed    time.Duration
	FPS        float64
	AverageFPS float64
	Inference  time.Duration
	PerClass   map[string]int
}

// NewCounters starts counting at the clock's current time.
func NewCounters(clk clock.Clock) *Counters {
	if clk == nil {
		clk = clock.New()
	}
	c := &Counters{clock: clk}
	c.Reset()
	return c
}

// Reset zeroes every counter and restarts the elapsed timer.
func (c *Counters) Reset() {
	c.start = c.clock.Now()
	c.frames = 0
	c.inferences = 0
	c.detections = 0
	c.lastInfer = 0
	c.perClass = make(map[string]int)
	c.done = c.done[:0]
}

// FrameIndex is the 0-based index of the next frame.
func (c *Counters) FrameIndex() int {
	return c.frames
}

// FrameDone records a completed iteration.
func (c *Counters) FrameDone() {
	c.frames++
	c.done = append(c.done, c.clock.Now())
	if len(c.done) > fpsWindow {
		c.done = c.done[1:]
	}
}

// Inferred records one detector call and the labels it produced.
func (c *Counters) Inferred(d time.Duration, labels []string) {
	c.inferences++
	c.lastInfer = d
	c.detections += len(labels)
	for _, l := range labels {
		c.perClass[l]++
	}
}

// FPS is the frame rate over the last fpsWindow frames. Until the window spans
// measurable time it falls back to AverageFPS.
func (c *Counters) FPS() float64 {
	if n := len(c.done); n >= 2 {
		if span := c.done[n-1].Sub(c.done[0]); span > 0 {
			return float64(n-1) / span.Seconds()
		}
	}
	return c.AverageFPS()
}

// AverageFPS is frames per second of wall-clock time since the start.
func (c *Counters) AverageFPS() float64 {
	elapsed := c.clock.Since(c.start)
	if elapsed <= 0 {
		return 0
	}
	return float64(c.frames) / elapsed.Seconds()
}

// Snapshot returns a copy of the current values.
func (c *Counters) Snapshot() Snapshot {
	perClass := make(map[string]int, len(c.perClass))
	for k, v := range c.perClass {
		perClass[k] = v
	}
	return Snapshot{
		Frames:     c.frames,
		Inferences: c.inferences,
		Detections: c.detections,
		Elapsed:    c.clock.Since(c.start),
		FPS:        c.FPS(),
		AverageFPS: c.AverageFPS(),
		Inference:  c.lastInfer,
		PerClass:   perClass,
	}
}
