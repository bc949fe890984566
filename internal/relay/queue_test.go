package relay

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Event{Type: EventChunk, Data: "a"})
	q.Enqueue(Event{Type: EventChunk, Data: "b"})

	ctx := context.Background()
	first, err := q.Dequeue(ctx, time.Second)
	if err != nil || first.Data != "a" {
		t.Fatalf("Dequeue 1 = %v, %v", first, err)
	}
	second, err := q.Dequeue(ctx, time.Second)
	if err != nil || second.Data != "b" {
		t.Fatalf("Dequeue 2 = %v, %v", second, err)
	}
}

func TestQueueDequeueTimeout(t *testing.T) {
	q := NewQueue()
	_, err := q.Dequeue(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrDequeueTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestQueueCloseWakesWaiter(t *testing.T) {
	q := NewQueue()
	errCh := make(chan error, 1)

	go func() {
		_, err := q.Dequeue(context.Background(), 5*time.Second)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Errorf("Expected ErrQueueClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Waiter was not woken by Close")
	}
}

func TestQueueDrainsBeforeReportingClose(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Event{Type: EventChunk, Data: "pending"})
	q.Close()

	evt, err := q.Dequeue(context.Background(), time.Second)
	if err != nil || evt.Data != "pending" {
		t.Fatalf("Expected pending event before close, got %v, %v", evt, err)
	}
	if _, err := q.Dequeue(context.Background(), time.Second); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed after drain, got %v", err)
	}
}

func TestQueueEnqueueAfterCloseDropped(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Enqueue(Event{Type: EventChunk, Data: "late"})

	if _, err := q.Dequeue(context.Background(), 50*time.Millisecond); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestQueueContextCancellation(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := q.Dequeue(ctx, 5*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
