// Package sink provides the display and recording outputs of the inference loop.
package sink

import (
	"sync"

	"gocv.io/x/gocv"
)

// Key codes that request a stop.
const (
	keyQ   = 'q'
	keyQUp = 'Q'
	keyEsc = 27
)

// Window shows frames in an OpenCV HighGUI window.
type Window struct {
	title  string
	window *gocv.Window
	mu     sync.Mutex
}

// NewWindow opens a window with the given title.
func NewWindow(title string) *Window {
	return &Window{
		title:  title,
		window: gocv.NewWindow(title),
	}
}

// Show presents frame and polls the keyboard for 1ms. It reports whether the
// user asked to quit.
func (w *Window) Show(frame gocv.Mat) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == nil {
		return false
	}
	w.window.IMShow(frame)
	return IsQuitKey(w.window.WaitKey(1))
}

// Close destroys the window. It is safe to call more than once.
func (w *Window) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	return err
}

// IsQuitKey reports whether a WaitKey result is a quit request.
func IsQuitKey(key int) bool {
	if key < 0 {
		return false
	}
	switch key & 0xFF {
	case keyQ, keyQUp, keyEsc:
		return true
	}
	return false
}
