package connector

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/connector-manager/internal/domain/protocol"
	"github.com/webitel/connector-manager/internal/domain/registry"
	"github.com/webitel/connector-manager/internal/eventbus"
)

// recordingEvents subscribes to a Manager's event bus and records every
// register/close/custom notification for assertions, without the test
// needing to stand up a real bus backend.
type recordingEvents struct {
	eventbus.Listener
	mu        sync.Mutex
	registers []string
	closes    []closeRecord
	customs   []string
	discards  []string
}

type closeRecord struct {
	channelID string
	cause     eventbus.CloseCause
}

func newRecordingEvents() *recordingEvents {
	return &recordingEvents{Listener: eventbus.NoopListener}
}

func (r *recordingEvents) OnRegister(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registers = append(r.registers, channelID)
}

func (r *recordingEvents) OnClose(channelID string, cause eventbus.CloseCause) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes = append(r.closes, closeRecord{channelID, cause})
}

func (r *recordingEvents) OnCustom(event string, attrs map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.customs = append(r.customs, event)
}

func (r *recordingEvents) OnDiscard(pd protocol.ProtocolData, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discards = append(r.discards, reason)
}

// recordingDataListener captures every business datagram delivered to it.
type recordingDataListener struct {
	mu       sync.Mutex
	received []protocol.ProtocolData
}

func (r *recordingDataListener) OnData(pd protocol.ProtocolData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, pd)
	return nil
}

func (r *recordingDataListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

// newTestManager builds an initialized Manager and flips it into the running
// state directly, bypassing Start so the real ticker-driven pump/sweeper
// goroutines never race with a test calling handleReceive/sweepOnce/
// retrySweepOnce by hand.
func newTestManager(t *testing.T) (*Manager, *recordingEvents) {
	t.Helper()
	rec := newRecordingEvents()
	bus := eventbus.NewInProcess()
	bus.Subscribe(rec)
	m := New(slog.Default())
	m.Init(Config{HeartbeatSeconds: MinHeartbeatSeconds}, bus)
	m.destroyed.Store(false)
	return m, rec
}

func businessFrame(id string, ack bool, body string) []byte {
	return protocol.Encode(protocol.Datagram{Type: 9, ID: []byte(id), Ack: ack, Body: []byte(body)})
}

func TestHandleReceiveHeartbeatRepliesInKind(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	raw := protocol.Encode(protocol.Datagram{Type: protocol.TypeHeartbeat, ID: []byte("c1")})
	m.handleReceive("c1", raw)

	require.Equal(t, 1, ch.writeCount())
	reply, err := protocol.Decode(ch.lastWrite())
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeHeartbeat, reply.Type)
	assert.Equal(t, "c1", reply.IDKey())
}

func TestHandleReceiveBusinessDispatchesToDataListener(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	l := &recordingDataListener{}
	m.RegisterDataListener(l)

	raw := businessFrame("m1", false, "hello")
	m.handleReceive("c1", raw)

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.received, 1)
	assert.Equal(t, "c1", l.received[0].ChannelID)
	assert.Equal(t, raw, l.received[0].Bytes)
}

func TestHandleReceiveAckRemovesRetryEntry(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	pd, err := protocol.New(businessFrame("m1", false, "x"), "c1")
	require.NoError(t, err)
	m.retryQueue.Add("m1", pd)

	ack := protocol.Encode(protocol.Datagram{Type: protocol.TypeAck, ID: []byte("m1")})
	m.handleReceive("c1", ack)

	assert.True(t, m.retryQueue.Empty())
}

func TestHandleAckIsIdempotentViaDedupeCache(t *testing.T) {
	m, _ := newTestManager(t)
	pd, err := protocol.New(businessFrame("m1", false, "x"), "c1")
	require.NoError(t, err)
	m.retryQueue.Add("m1", pd)

	d := protocol.Datagram{ID: []byte("m1")}
	m.handleAck(d)
	assert.True(t, m.retryQueue.Empty())

	_, known := m.ackCache.Get("m1")
	require.True(t, known)

	assert.NotPanics(t, func() { m.handleAck(d) })
}

func TestWriteEnqueuesAckRequestedDatagram(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	pd, err := protocol.New(businessFrame("m1", true, "x"), "c1")
	require.NoError(t, err)

	require.NoError(t, m.Write(pd))
	assert.Equal(t, 1, m.retryQueue.Len())
	assert.Equal(t, 1, ch.writeCount())
}

func TestWriteWithoutAckFlagSkipsRetryQueue(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	pd, err := protocol.New(businessFrame("m1", false, "x"), "c1")
	require.NoError(t, err)

	require.NoError(t, m.Write(pd))
	assert.True(t, m.retryQueue.Empty())
}

func TestWriteUnderDestroyedStillWritesButSkipsEnqueue(t *testing.T) {
	m, bus := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	m.destroyed.Store(true)
	defer m.destroyed.Store(false)

	pd, err := protocol.New(businessFrame("m1", true, "x"), "c1")
	require.NoError(t, err)

	require.NoError(t, m.Write(pd))
	assert.Equal(t, 1, ch.writeCount(), "write still happens while shutting down")
	assert.True(t, m.retryQueue.Empty(), "enqueue is skipped while shutting down")

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Contains(t, bus.discards, "destroyed")
}

func TestRetrySweepExhaustsAfterMaxAttempts(t *testing.T) {
	m, bus := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	pd, err := protocol.New(businessFrame("m1", true, "x"), "c1")
	require.NoError(t, err)
	require.NoError(t, m.Write(pd))
	require.Equal(t, 1, ch.writeCount())

	for i := 0; i < registry.MaxAttempts; i++ {
		m.retrySweepOnce()
	}
	require.Equal(t, 1, m.retryQueue.Len(), "entry survives exactly MaxAttempts passes")

	m.retrySweepOnce()
	assert.True(t, m.retryQueue.Empty(), "entry is evicted once attempts reach the cap")

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Contains(t, bus.customs, "retry_exhausted")
}

func TestRetrySweepDropsEntryWhenChannelIsGone(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	pd, err := protocol.New(businessFrame("m1", true, "x"), "c1")
	require.NoError(t, err)
	require.NoError(t, m.Write(pd))
	require.Equal(t, 1, ch.writeCount())

	m.closeChannel("c1", eventbus.CauseSystem)
	require.Equal(t, 1, ch.closed)

	m.retrySweepOnce()

	assert.True(t, m.retryQueue.Empty())
	assert.Equal(t, 1, ch.writeCount(), "no further write once the channel is gone")
}

func TestSweepOnceEvictsStaleChannel(t *testing.T) {
	m, bus := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)
	ch.backdate(2 * time.Second)
	m.heartbeatOverride.Store(1)

	m.sweepOnce()

	assert.Equal(t, 1, ch.closed)
	_, ok := m.registry.Get("c1")
	assert.False(t, ok)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.closes, 1)
	assert.Equal(t, eventbus.CauseTimeout, bus.closes[0].cause)
}

func TestSweepOnceLeavesFreshChannelAlone(t *testing.T) {
	m, _ := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)
	m.heartbeatOverride.Store(3600)

	m.sweepOnce()

	assert.Equal(t, 0, ch.closed)
	_, ok := m.registry.Get("c1")
	assert.True(t, ok)
}

func TestSweepOnceDoesNotCloseReplacedInstance(t *testing.T) {
	m, bus := newTestManager(t)
	a := newStubChannel("c1")
	m.Register(a)
	a.backdate(2 * time.Second)
	m.heartbeatOverride.Store(1)

	// Simulate a peer reconnecting under the same id between the sweep's
	// Range snapshot and its close pass: capture the stale instance the way
	// sweepOnce does, then register the replacement before closing it.
	stale := staleChannel{id: "c1", ch: a}
	b := newStubChannel("c1")
	m.Register(b)

	m.closeExact(stale.id, stale.ch, eventbus.CauseTimeout)

	assert.Equal(t, 0, b.closed, "freshly registered instance must survive the stale sweep")
	got, ok := m.registry.Get("c1")
	require.True(t, ok)
	assert.Same(t, b, got)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, c := range bus.closes {
		assert.NotEqual(t, eventbus.CauseTimeout, c.cause, "stale instance close must not be reported once skipped")
	}
}

func TestRegisterReplaceClosesOldInstance(t *testing.T) {
	m, bus := newTestManager(t)
	a := newStubChannel("c1")
	b := newStubChannel("c1")

	m.Register(a)
	m.Register(b)

	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 0, b.closed)

	got, ok := m.registry.Get("c1")
	require.True(t, ok)
	assert.Same(t, b, got)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	assert.Equal(t, []string{"c1", "c1"}, bus.registers)
	require.Len(t, bus.closes, 1)
	assert.Equal(t, eventbus.CauseSystem, bus.closes[0].cause)
}

func TestCloseIsAtMostOnceAtTheManagerLevel(t *testing.T) {
	m, bus := newTestManager(t)
	ch := newStubChannel("c1")
	m.Register(ch)

	m.Close("c1", eventbus.CauseClient)
	m.Close("c1", eventbus.CauseClient)

	assert.Equal(t, 1, ch.closed)

	bus.mu.Lock()
	defer bus.mu.Unlock()
	require.Len(t, bus.closes, 1)
}

func TestStartAndShutdownRoundTrip(t *testing.T) {
	bus := eventbus.NewInProcess()
	m := New(slog.Default())
	m.Init(Config{HeartbeatSeconds: MinHeartbeatSeconds}, bus)

	m.Start()
	assert.True(t, m.Running())

	m.Shutdown()
	assert.False(t, m.Running())
	assert.Equal(t, 0, m.registry.Len(), "shutdown clears the registry")
}

func TestChannelSampleUsesRegisteredIDs(t *testing.T) {
	m, _ := newTestManager(t)
	m.Register(newStubChannel("c1"))
	m.Register(newStubChannel("c2"))
	m.Register(newStubChannel("c3"))

	got := m.ChannelSample("any-key", 2)
	assert.Len(t, got, 2)
	for _, id := range got {
		assert.Contains(t, []string{"c1", "c2", "c3"}, id)
	}
}

func TestStatsReflectsRegistryAndRetryQueue(t *testing.T) {
	m, _ := newTestManager(t)
	m.Register(newStubChannel("c1"))
	pd, err := protocol.New(businessFrame("m1", true, "x"), "c1")
	require.NoError(t, err)
	require.NoError(t, m.Write(pd))

	s := m.Stats()
	assert.Equal(t, "running", s.State)
	assert.Equal(t, 1, s.Channels)
	assert.Equal(t, 1, s.PendingRetries)
}
