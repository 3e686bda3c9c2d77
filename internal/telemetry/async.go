package telemetry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ayusman/chilieye/internal/logger"
)

// AsyncPublisher hands messages to a background goroutine so a slow broker
// never stalls the caller. When the queue is full new messages are dropped.
type AsyncPublisher struct {
	next  Publisher
	log   *logger.Logger
	queue chan Message

	dropped atomic.Int64
	failed  atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewAsync starts a worker publishing through next. size <= 0 uses 64.
func NewAsync(next Publisher, size int, log *logger.Logger) *AsyncPublisher {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &AsyncPublisher{
		next:   next,
		log:    log,
		queue:  make(chan Message, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		if err := p.next.Publish(p.ctx, msg); err != nil {
			p.failed.Add(1)
			p.log.Warn("telemetry publish failed", "class", msg.Class, "error", err)
		}
	}
}

// Publish enqueues msg without blocking.
func (p *AsyncPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("publisher closed")
	}

	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many messages were discarded because the queue was full.
func (p *AsyncPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Failed returns how many messages the underlying publisher rejected.
func (p *AsyncPublisher) Failed() int64 {
	return p.failed.Load()
}

// Close drains queued messages, then closes the underlying publisher.
func (p *AsyncPublisher) Close() error {
	return p.Shutdown(context.Background())
}

// Shutdown is Close bounded by ctx. In-flight publishes are cancelled when ctx ends.
func (p *AsyncPublisher) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		p.cancel()
		<-p.done
	}
	p.cancel()
	return p.next.Close()
}
