package capture

import (
	"errors"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// AsyncCamera reads from an inner Camera on its own goroutine and keeps at
// most capacity reads. When the queue is full the oldest read is dropped so
// the consumer always sees the freshest frames. Frames and transient errors
// share one queue and arrive in capture order.
type AsyncCamera struct {
	inner    Camera
	capacity int

	mu      sync.Mutex
	queue   []queued
	endErr  error
	running bool

	notify  chan struct{}
	stop    chan struct{}
	done    chan struct{}
	dropped atomic.Int64
}

// queued is one result of the inner camera: a frame or a transient error.
type queued struct {
	mat *gocv.Mat
	err error
}

// NewAsyncCamera wraps inner with a bounded drop-oldest queue of 1 or 2 frames.
func NewAsyncCamera(inner Camera, capacity int) *AsyncCamera {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > 2 {
		capacity = 2
	}
	return &AsyncCamera{
		inner:    inner,
		capacity: capacity,
	}
}

// Open opens the inner camera and starts the reader goroutine.
func (c *AsyncCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if err := c.inner.Open(); err != nil {
		return err
	}

	c.queue = nil
	c.endErr = nil
	c.notify = make(chan struct{}, 1)
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	c.running = true

	go c.produce(c.stop, c.done)
	return nil
}

func (c *AsyncCamera) produce(stop, done chan struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		mat, err := c.inner.ReadFrame()
		if err != nil {
			if errors.Is(err, ErrEndOfStream) || errors.Is(err, ErrCameraNotOpen) {
				c.mu.Lock()
				c.endErr = err
				c.mu.Unlock()
				c.wake()
				return
			}
			c.push(queued{err: err})
			continue
		}
		c.push(queued{mat: mat})
	}
}

func (c *AsyncCamera) push(r queued) {
	c.mu.Lock()
	if len(c.queue) >= c.capacity {
		if old := c.queue[0]; old.mat != nil {
			old.mat.Close()
			c.dropped.Add(1)
		}
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, r)
	c.mu.Unlock()
	c.wake()
}

func (c *AsyncCamera) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ReadFrame blocks until a frame, a transient error or the end of the stream is
// available. Queued reads are returned in the order they were captured.
func (c *AsyncCamera) ReadFrame() (*gocv.Mat, error) {
	for {
		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return nil, ErrCameraNotOpen
		}
		if len(c.queue) > 0 {
			r := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return r.mat, r.err
		}
		if c.endErr != nil {
			err := c.endErr
			c.mu.Unlock()
			return nil, err
		}
		notify, done := c.notify, c.done
		c.mu.Unlock()

		select {
		case <-notify:
		case <-done:
			// Producer exited; loop once more to pick up endErr.
		}
	}
}

// Close stops the reader, closes the inner camera and frees queued frames.
func (c *AsyncCamera) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stop)
	done := c.done
	c.mu.Unlock()

	<-done

	c.mu.Lock()
	for _, r := range c.queue {
		if r.mat != nil {
			r.mat.Close()
		}
	}
	c.queue = nil
	c.mu.Unlock()

	return c.inner.Close()
}

func (c *AsyncCamera) SetFPS(fps int) { c.inner.SetFPS(fps) }
func (c *AsyncCamera) FPS() int       { return c.inner.FPS() }

func (c *AsyncCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Dropped returns how many frames were discarded because the consumer fell behind.
func (c *AsyncCamera) Dropped() int64 {
	return c.dropped.Load()
}
