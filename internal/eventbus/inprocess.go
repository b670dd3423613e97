package eventbus

import (
	"sync"
	"sync/atomic"

	"github.com/webitel/connector-manager/internal/domain/protocol"
)

// InProcess is the default event bus used when the caller passes none
// (spec.md §4.1). Listeners are held in a copy-on-write slice behind an
// atomic pointer so that dispatch (read) never blocks on, or is disturbed
// by, concurrent Subscribe/unsubscribe calls — the snapshot-on-iterate
// discipline spec.md §9 calls for.
type InProcess struct {
	listeners atomic.Pointer[[]Listener]
	mu        sync.Mutex // serializes writers only; readers never take it
}

var _ Bus = (*InProcess)(nil)

// NewInProcess constructs an empty in-process bus.
func NewInProcess() *InProcess {
	b := &InProcess{}
	empty := make([]Listener, 0)
	b.listeners.Store(&empty)
	return b
}

func (b *InProcess) Subscribe(l Listener) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.listeners.Load()
	next := make([]Listener, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = l
	b.listeners.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(l) })
	}
}

func (b *InProcess) remove(target Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := *b.listeners.Load()
	next := make([]Listener, 0, len(cur))
	for _, l := range cur {
		if l != target {
			next = append(next, l)
		}
	}
	b.listeners.Store(&next)
}

func (b *InProcess) snapshot() []Listener {
	return *b.listeners.Load()
}

func (b *InProcess) OnRegister(channelID string) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnRegister(channelID) })
	}
}

func (b *InProcess) OnReceive(channelID string, raw []byte) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnReceive(channelID, raw) })
	}
}

func (b *InProcess) OnReceiveSuccess(channelID string, d protocol.Datagram) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnReceiveSuccess(channelID, d) })
	}
}

func (b *InProcess) OnReceiveError(channelID string, raw []byte, err error) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnReceiveError(channelID, raw, err) })
	}
}

func (b *InProcess) OnSend(payload protocol.ProtocolData) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnSend(payload) })
	}
}

func (b *InProcess) OnDiscard(payload protocol.ProtocolData, reason string) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnDiscard(payload, reason) })
	}
}

func (b *InProcess) OnClose(channelID string, cause CloseCause) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnClose(channelID, cause) })
	}
}

func (b *InProcess) OnCustom(event string, attrs map[string]any) {
	for _, l := range b.snapshot() {
		safeCall(func() { l.OnCustom(event, attrs) })
	}
}

// safeCall isolates one listener's panic from the dispatch loop and from
// the protocol action that triggered it — observability must never take
// down the Connector Manager (spec.md §4.6).
func safeCall(fn func()) {
	defer func() { _ = recover() }()
	fn()
}
