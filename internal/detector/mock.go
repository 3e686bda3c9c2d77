package detector

import (
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Step is one scripted response of a MockDetector.
type Step struct {
	Result Result
	Err    error
}

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results.
type MockDetector struct {
	mu     sync.Mutex
	size   image.Point
	result Result
	err    error
	script []Step
	calls  int
	closed bool
}

// NewMockDetector creates a new MockDetector with a 416x416 input.
func NewMockDetector() *MockDetector {
	return &MockDetector{size: image.Pt(416, 416)}
}

// SetInputSize changes the resolution Detect accepts.
func (m *MockDetector) SetInputSize(size image.Point) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.size = size
}

// SetResult sets the result returned once the script is exhausted.
func (m *MockDetector) SetResult(result Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
}

// SetError sets the error returned once the script is exhausted.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Script queues responses consumed one per Detect call.
func (m *MockDetector) Script(steps ...Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, steps...)
}

// Detect enforces the input-size precondition and returns the next scripted response.
func (m *MockDetector) Detect(frame *gocv.Mat) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.closed {
		return Result{}, &InferenceError{Message: "detect", Cause: ErrClosed}
	}
	if err := checkInput(frame, m.size); err != nil {
		return Result{}, err
	}

	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		return step.Result, step.Err
	}
	if m.err != nil {
		return Result{}, m.err
	}
	return m.result, nil
}

// InputSize returns the configured input resolution.
func (m *MockDetector) InputSize() image.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

// Calls returns how many times Detect was called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
