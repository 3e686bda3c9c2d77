package capture

import (
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// fileSource reads frames from a video file. It is finite and not restartable.
type fileSource struct {
	path    string
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	done    bool
}

// NewFileSource creates a Camera that plays back a video file once.
func NewFileSource(path string) Camera {
	return &fileSource{path: path}
}

func (f *fileSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return nil
	}
	if f.done {
		return fmt.Errorf("video file %s already consumed", f.path)
	}

	capture, err := gocv.VideoCaptureFile(f.path)
	if err != nil {
		return fmt.Errorf("open video file %s: %w", f.path, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open video file %s: not opened", f.path)
	}

	f.capture = capture
	f.running = true
	return nil
}

func (f *fileSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.capture == nil {
		f.running = false
		return nil
	}

	err := f.capture.Close()
	f.capture = nil
	f.running = false
	f.done = true
	return err
}

func (f *fileSource) ReadFrame() (*gocv.Mat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running || f.capture == nil {
		return nil, ErrCameraNotOpen
	}

	return readMat(f.capture)
}

// SetFPS is ignored; files play as fast as they are read.
func (f *fileSource) SetFPS(fps int) {}

func (f *fileSource) FPS() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.capture == nil {
		return 0
	}
	return int(f.capture.Get(gocv.VideoCaptureFPS))
}

func (f *fileSource) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.running
}
