package server

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gocv.io/x/gocv"
)

const defaultPreviewFPS = 15

// FrameBuffer holds the latest rendered frame as JPEG for the preview
// endpoints. It receives every rendered frame from the loop and encodes at
// most fps frames per second.
type FrameBuffer struct {
	clock       clock.Clock
	minInterval time.Duration
	quality     int

	mu    sync.Mutex
	jpeg  []byte
	seq   uint64
	last  time.Time
	ready chan struct{}
}

// NewFrameBuffer creates a FrameBuffer. fps <= 0 uses 15.
func NewFrameBuffer(fps int, clk clock.Clock) *FrameBuffer {
	if fps <= 0 {
		fps = defaultPreviewFPS
	}
	if clk == nil {
		clk = clock.New()
	}
	return &FrameBuffer{
		clock:       clk,
		minInterval: time.Second / time.Duration(fps),
		quality:     80,
		ready:       make(chan struct{}),
	}
}

// Publish encodes frame unless the previous frame was encoded too recently.
func (b *FrameBuffer) Publish(frame gocv.Mat) {
	now := b.clock.Now()
	b.mu.Lock()
	due := b.seq == 0 || now.Sub(b.last) >= b.minInterval
	b.mu.Unlock()
	if !due || frame.Empty() {
		return
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, frame, []int{gocv.IMWriteJpegQuality, b.quality})
	if err != nil {
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	b.mu.Lock()
	b.last = now
	b.mu.Unlock()
	b.Set(data)
}

// Set stores an encoded JPEG and wakes waiting readers.
func (b *FrameBuffer) Set(jpeg []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jpeg = jpeg
	b.seq++
	close(b.ready)
	b.ready = make(chan struct{})
}

// Latest returns the newest JPEG and its sequence number. seq is 0 before the
// first frame.
func (b *FrameBuffer) Latest() ([]byte, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jpeg, b.seq
}

// Next blocks until a frame newer than after is available.
func (b *FrameBuffer) Next(ctx context.Context, after uint64) ([]byte, uint64, error) {
	for {
		b.mu.Lock()
		if b.seq > after {
			jpeg, seq := b.jpeg, b.seq
			b.mu.Unlock()
			return jpeg, seq, nil
		}
		ready := b.ready
		b.mu.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}
