package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	msgs   []Message
	err    error
	block  chan struct{}
	closed int
}

func (r *recordingPublisher) Publish(ctx context.Context, msg Message) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return r.err
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func TestAsyncPublisher_DeliversInOrder(t *testing.T) {
	next := &recordingPublisher{}
	p := NewAsync(next, 8, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Publish(context.Background(), Message{FrameIndex: i}))
	}
	require.NoError(t, p.Close())

	require.Equal(t, 5, next.count())
	for i, m := range next.msgs {
		assert.Equal(t, i, m.FrameIndex)
	}
	assert.Equal(t, 1, next.closed)
	assert.Error(t, p.Publish(context.Background(), Message{}))
}

func TestAsyncPublisher_DropsWhenFull(t *testing.T) {
	next := &recordingPublisher{block: make(chan struct{})}
	p := NewAsync(next, 2, nil)

	// One message is held by the worker, two fill the queue.
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Publish(context.Background(), Message{FrameIndex: i}))
	}
	assert.GreaterOrEqual(t, p.Dropped(), int64(7))

	close(next.block)
	require.NoError(t, p.Close())
	assert.Equal(t, int64(10), p.Dropped()+int64(next.count()))
}

func TestAsyncPublisher_CountsFailures(t *testing.T) {
	next := &recordingPublisher{err: errors.New("broker down")}
	p := NewAsync(next, 4, nil)

	require.NoError(t, p.Publish(context.Background(), Message{}))
	require.NoError(t, p.Publish(context.Background(), Message{}))
	require.NoError(t, p.Close())

	assert.Equal(t, int64(2), p.Failed())
}

func TestAsyncPublisher_ShutdownCancelsStuckPublish(t *testing.T) {
	next := &recordingPublisher{block: make(chan struct{})}
	p := NewAsync(next, 4, nil)
	require.NoError(t, p.Publish(context.Background(), Message{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, p.Shutdown(ctx))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, next.closed)
}
