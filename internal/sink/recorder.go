package sink

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ErrRecorderClosed is returned by Write after Close.
var ErrRecorderClosed = errors.New("recorder is closed")

// Recorder writes frames to a video file. The file is finalized by Close.
type Recorder struct {
	path   string
	size   image.Point
	writer *gocv.VideoWriter
	frames int
	mu     sync.Mutex
}

// DefaultRecordingPath returns output_<timestamp>.mp4 inside dir.
func DefaultRecordingPath(dir string, now time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("output_%s.mp4", now.Format("20060102_150405")))
}

// NewRecorder opens a video file for writing. codec is a fourcc such as "mp4v".
func NewRecorder(path, codec string, fps float64, size image.Point) (*Recorder, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("invalid recording size %v", size)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create recording directory: %w", err)
		}
	}

	writer, err := gocv.VideoWriterFile(path, codec, fps, size.X, size.Y, true)
	if err != nil {
		return nil, fmt.Errorf("open video writer %s: %w", path, err)
	}
	if !writer.IsOpened() {
		writer.Close()
		return nil, fmt.Errorf("open video writer %s: codec %q not available", path, codec)
	}

	return &Recorder{
		path:   path,
		size:   size,
		writer: writer,
	}, nil
}

// Write appends frame, resizing it first if it does not match the file size.
func (r *Recorder) Write(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return ErrRecorderClosed
	}

	img := frame
	if frame.Cols() != r.size.X || frame.Rows() != r.size.Y {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(frame, &resized, r.size, 0, 0, gocv.InterpolationLinear)
		img = resized
	}

	if err := r.writer.Write(img); err != nil {
		return fmt.Errorf("write frame %d: %w", r.frames, err)
	}
	r.frames++
	return nil
}

// Frames returns how many frames were written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Path returns the output file path.
func (r *Recorder) Path() string {
	return r.path
}

// Close finalizes the file. It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	r.writer = nil
	return err
}
