// Package registry holds the Connector Manager's two core concurrent maps:
// the live channel registry and the pending-ACK retry queue. Both are
// grounded on the teacher's sync.Map-based Hub, generalized from per-user
// actor cells to plain channel/datagram bookkeeping.
package registry

import (
	"sync"

	"github.com/webitel/connector-manager/internal/domain/dchannel"
)

// RegisterOutcome reports what Register did, so the caller can decide which
// event-bus notification (if any) to emit.
type RegisterOutcome int

const (
	// Installed means no entry existed for this id; the channel is now live.
	Installed RegisterOutcome = iota
	// Replaced means a different channel instance previously held this id;
	// it was evicted (caller must close it with cause SYSTEM) and replaced.
	Replaced
	// NoOp means the exact same instance was already registered.
	NoOp
)

// Registry is the channel-id -> Channel mapping. A single live Channel may
// exist per id at any time; Register performs an atomic
// put-if-absent-else-replace-if-different-instance to close the race the
// teacher's "contains + get + put" sequence left open (spec.md §9).
type Registry struct {
	channels sync.Map // string -> dchannel.Channel
}

// New constructs an empty Registry.
func New() *Registry { return &Registry{} }

// Get looks up a channel by id.
func (r *Registry) Get(id string) (dchannel.Channel, bool) {
	v, ok := r.channels.Load(id)
	if !ok {
		return nil, false
	}
	return v.(dchannel.Channel), true
}

// Register installs ch under its own id, atomically replacing a different
// previously-registered instance if present. The evicted channel (if any)
// is returned so the caller can close it.
func (r *Registry) Register(ch dchannel.Channel) (RegisterOutcome, dchannel.Channel) {
	id := ch.ID()
	for {
		actual, loaded := r.channels.LoadOrStore(id, ch)
		if !loaded {
			return Installed, nil
		}
		old := actual.(dchannel.Channel)
		if old == ch {
			return NoOp, nil
		}
		if r.channels.CompareAndSwap(id, old, ch) {
			return Replaced, old
		}
		// Someone else mutated the entry concurrently; retry the whole dance.
	}
}

// Unregister removes id unconditionally and returns the channel that was
// stored there, if any. It does not call Close — the caller owns that.
func (r *Registry) Unregister(id string) (dchannel.Channel, bool) {
	v, ok := r.channels.LoadAndDelete(id)
	if !ok {
		return nil, false
	}
	return v.(dchannel.Channel), true
}

// RemoveExact deletes id only if the stored instance is exactly ch,
// protecting against a sweeper and a concurrent re-register racing on the
// same id (at-most-once close per instance, spec.md §8).
func (r *Registry) RemoveExact(id string, ch dchannel.Channel) bool {
	return r.channels.CompareAndDelete(id, ch)
}

// Range snapshots the registry for iteration (liveness sweep, stats). The
// callback must not block.
func (r *Registry) Range(fn func(id string, ch dchannel.Channel) bool) {
	r.channels.Range(func(k, v any) bool {
		return fn(k.(string), v.(dchannel.Channel))
	})
}

// Keys returns a snapshot of every currently-registered channel id. O(n);
// intended for admin/debug surfaces, not hot paths.
func (r *Registry) Keys() []string {
	var ids []string
	r.channels.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	return ids
}

// Len returns the current channel count. O(n); intended for stats, not hot
// paths.
func (r *Registry) Len() int {
	n := 0
	r.channels.Range(func(_, _ any) bool { n++; return true })
	return n
}

// Clear removes every entry without closing them (the caller — shutdown —
// is expected to have already closed everything it cares about).
func (r *Registry) Clear() {
	r.channels.Range(func(k, _ any) bool {
		r.channels.Delete(k)
		return true
	})
}
