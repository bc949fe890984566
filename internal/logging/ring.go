package logging

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// RingCapacity bounds the in-memory log history exposed on the status endpoint.
const RingCapacity = 100

// Entry is one captured log line.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Ring keeps the most recent log entries for status introspection.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

// NewRing constructs a ring buffer with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = RingCapacity
	}
	return &Ring{
		entries: make([]Entry, 0, capacity),
		cap:     capacity,
	}
}

// Append records one entry, evicting the oldest when full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	if len(r.entries) > r.cap {
		excess := len(r.entries) - r.cap
		r.entries = append([]Entry(nil), r.entries[excess:]...)
	}
}

// Snapshot returns a copy of the current entries, oldest first.
func (r *Ring) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// RingHook is a logrus hook feeding the ring buffer.
type RingHook struct {
	ring *Ring
}

// NewRingHook builds a hook around the given ring.
func NewRingHook(ring *Ring) *RingHook {
	return &RingHook{ring: ring}
}

// Levels returns the log levels this hook fires for.
func (h *RingHook) Levels() []log.Level {
	return log.AllLevels
}

// Fire captures the entry into the ring.
func (h *RingHook) Fire(entry *log.Entry) error {
	h.ring.Append(Entry{
		Timestamp: entry.Time.Format(time.RFC3339),
		Level:     entry.Level.String(),
		Message:   entry.Message,
	})
	return nil
}

var (
	globalRing *Ring
	ringOnce   sync.Once
)

// GetRing returns the process-wide log ring, installing the hook on first use.
func GetRing() *Ring {
	ringOnce.Do(func() {
		globalRing = NewRing(RingCapacity)
		log.AddHook(NewRingHook(globalRing))
	})
	return globalRing
}
