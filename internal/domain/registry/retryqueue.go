package registry

import (
	"sync"

	"github.com/webitel/connector-manager/internal/domain/protocol"
)

// MaxAttempts is the retry cap (spec.md §6): an entry is resent on this many
// retry-pump passes and evicted on the next one, regardless of channel
// health.
const MaxAttempts = 30

// RetryInterval is the retry pump's sleep between passes (spec.md §6).
const RetryInterval = 100 // milliseconds; kept as an int constant so callers
// can build a time.Duration without importing time just for this file.

// RetryData tracks one outbound datagram awaiting peer ACK.
type RetryData struct {
	Payload  protocol.ProtocolData
	Attempts int
}

// RetryQueue maps datagram id (string form of the id bytes) to its pending
// RetryData. Iteration is safe under concurrent Add/Remove — the retry pump
// snapshots keys before mutating, so a Remove during iteration never
// corrupts a concurrent sweep.
type RetryQueue struct {
	mu      sync.Mutex
	entries map[string]*RetryData
}

// NewRetryQueue constructs an empty RetryQueue.
func NewRetryQueue() *RetryQueue {
	return &RetryQueue{entries: make(map[string]*RetryData)}
}

// Add registers a new pending retry, or is a no-op if the id is already
// tracked (a caller re-sending the exact same id replaces nothing — the
// original attempt counter keeps ticking).
func (q *RetryQueue) Add(id string, payload protocol.ProtocolData) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; ok {
		return
	}
	q.entries[id] = &RetryData{Payload: payload}
}

// Remove deletes the entry for id. Safe to call for an id that is absent or
// already removed — this is what makes repeated ACKs for the same id
// idempotent (spec.md §8).
func (q *RetryQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; !ok {
		return false
	}
	delete(q.entries, id)
	return true
}

// Len reports the number of pending entries.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Empty reports whether the queue currently holds no entries — used by the
// retry pump's shutdown-drain loop condition (spec.md §4.3).
func (q *RetryQueue) Empty() bool { return q.Len() == 0 }

// Snapshot returns a point-in-time copy of (id, *RetryData) pairs for the
// retry pump to iterate without holding the queue lock during channel I/O.
func (q *RetryQueue) Snapshot() map[string]*RetryData {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]*RetryData, len(q.entries))
	for k, v := range q.entries {
		out[k] = v
	}
	return out
}

// IncrementAttempts bumps the attempt counter for id and reports the new
// value, or false if the entry is gone (e.g. concurrently ACKed).
func (q *RetryQueue) IncrementAttempts(id string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rd, ok := q.entries[id]
	if !ok {
		return 0, false
	}
	rd.Attempts++
	return rd.Attempts, true
}
