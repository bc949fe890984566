package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueClosed is returned by Dequeue after Close; it signals a
	// transport failure, not an upstream error.
	ErrQueueClosed = errors.New("relay queue closed")
	// ErrDequeueTimeout is returned when no event arrives in time.
	ErrDequeueTimeout = errors.New("relay queue dequeue timeout")
)

// Queue is the per-request inbound event queue: FIFO, unbounded,
// single producer (the channel), single consumer (the request task).
// Enqueue never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue constructs an open queue.
func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Enqueue appends an event. Events enqueued after Close are dropped.
func (q *Queue) Enqueue(evt Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, evt)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue blocks until an event is available, the queue is closed, the
// timeout elapses, or ctx is cancelled. Events already enqueued are drained
// before a close is reported.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			evt := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return evt, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return Event{}, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-q.done:
		case <-timer.C:
			return Event{}, ErrDequeueTimeout
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

// Close marks the queue closed and wakes all waiters. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.done)
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
