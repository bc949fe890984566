package relay

import (
	"sync"

	"aistudio2api-go/internal/monitoring"
	log "github.com/sirupsen/logrus"
)

// Mux routes inbound relay events into per-request queues keyed by
// request_id. Request IDs are freshly minted per request, so a duplicate
// CreateQueue is a programmer error.
type Mux struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewMux constructs an empty multiplexer.
func NewMux() *Mux {
	return &Mux{queues: make(map[string]*Queue)}
}

// CreateQueue registers a queue for the given request ID.
func (m *Mux) CreateQueue(requestID string) *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.queues[requestID]; ok {
		log.Errorf("Duplicate queue for request %s; closing the old one", requestID)
		old.Close()
	}
	q := NewQueue()
	m.queues[requestID] = q
	return q
}

// RemoveQueue closes and forgets the queue for the given request ID.
// Idempotent.
func (m *Mux) RemoveQueue(requestID string) {
	m.mu.Lock()
	q, ok := m.queues[requestID]
	if ok {
		delete(m.queues, requestID)
	}
	m.mu.Unlock()

	if ok {
		q.Close()
	}
}

// Deliver routes one event by request_id. stream_close is normalised to the
// STREAM_END sentinel; unknown event types and unknown request IDs are
// dropped.
func (m *Mux) Deliver(evt Event) {
	switch evt.Type {
	case EventResponseHeaders, EventChunk, EventError:
	case EventStreamClose:
		evt.Type = EventStreamEnd
	default:
		log.Debugf("Dropping relay event with unknown type %q", evt.Type)
		return
	}
	monitoring.RelayEventsTotal.WithLabelValues(string(evt.Type)).Inc()

	m.mu.Lock()
	q, ok := m.queues[evt.RequestID]
	m.mu.Unlock()

	if !ok {
		log.Debugf("Dropping relay event for unknown request %s", evt.RequestID)
		return
	}
	q.Enqueue(evt)
}

// CloseAll closes every live queue. Used when the relay link is lost beyond
// the reconnect grace window.
func (m *Mux) CloseAll() {
	m.mu.Lock()
	queues := make([]*Queue, 0, len(m.queues))
	for id, q := range m.queues {
		queues = append(queues, q)
		delete(m.queues, id)
	}
	m.mu.Unlock()

	for _, q := range queues {
		q.Close()
	}
}

// Len returns the number of live queues.
func (m *Mux) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues)
}
