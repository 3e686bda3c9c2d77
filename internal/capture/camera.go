// Package capture provides frame sources for the inference loop using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 416
	DefaultHeight = 416
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrEndOfStream is returned when the source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
	// ErrEmptyFrame is returned when the device delivered a frame with no pixels.
	ErrEmptyFrame = errors.New("captured frame is empty")
)

// Camera defines the interface for frame sources.
type Camera interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller owns the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

// Options configures a device camera.
type Options struct {
	// Devices are tried in order until one opens.
	Devices []int
	Width   int
	Height  int
	FPS     int
}

// cameraImpl manages video capture from a camera device using GoCV.
type cameraImpl struct {
	opts    Options
	device  int
	capture *gocv.VideoCapture
	mu      sync.Mutex
	running bool
	fps     int
}

// NewCamera creates a new Camera over the given device ids.
func NewCamera(opts Options) Camera {
	if len(opts.Devices) == 0 {
		opts.Devices = []int{0}
	}
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	if opts.Height <= 0 {
		opts.Height = DefaultHeight
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}

	return &cameraImpl{
		opts:   opts,
		device: -1,
		fps:    opts.FPS,
	}
}

// Open opens the first device in the list that can be opened.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var errs []error
	for _, id := range c.opts.Devices {
		capture, err := gocv.OpenVideoCapture(id)
		if err != nil {
			errs = append(errs, fmt.Errorf("device %d: %w", id, err))
			continue
		}
		if !capture.IsOpened() {
			capture.Close()
			errs = append(errs, fmt.Errorf("device %d: not opened", id))
			continue
		}

		capture.Set(gocv.VideoCaptureFrameWidth, float64(c.opts.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(c.opts.Height))
		capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

		c.capture = capture
		c.device = id
		c.running = true
		return nil
	}

	return fmt.Errorf("no camera could be opened from %v: %w", c.opts.Devices, multierr.Combine(errs...))
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads a single frame from the camera.
// A failed grab ends the stream; an empty frame is reported as ErrEmptyFrame.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	return readMat(c.capture)
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}

// Device returns the id of the opened device, or -1.
func (c *cameraImpl) Device() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.device
}

func readMat(capture *gocv.VideoCapture) (*gocv.Mat, error) {
	mat := gocv.NewMat()
	if ok := capture.Read(&mat); !ok {
		mat.Close()
		return nil, ErrEndOfStream
	}

	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}

	return &mat, nil
}
