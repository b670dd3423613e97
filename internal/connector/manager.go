// Package connector implements the Connector Manager: the façade that owns
// the channel registry, the pending-ACK retry queue, the receive dispatcher,
// the retry pump and the liveness sweeper, and that fans every notable event
// out to an event bus. It is grounded on the teacher's
// internal/service/delivery.go combined with internal/domain/registry's
// Hub (spec.md §4.1, §4.7).
package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"

	"github.com/webitel/connector-manager/infra/transport/subset"
	"github.com/webitel/connector-manager/internal/domain/dchannel"
	"github.com/webitel/connector-manager/internal/domain/protocol"
	"github.com/webitel/connector-manager/internal/domain/registry"
	"github.com/webitel/connector-manager/internal/eventbus"
)

// Manager is the Connector Manager. The zero value is not usable; construct
// with New and call Init before Start.
type Manager struct {
	logger *slog.Logger

	cfg Config
	bus eventbus.Bus

	registry   *registry.Registry
	retryQueue *registry.RetryQueue
	ackCache   *lru.Cache[string, int64]

	dataListeners atomic.Pointer[[]ProtocolDataListener]
	listenersMu   sync.Mutex

	breakers sync.Map // ProtocolDataListener -> *gobreaker.CircuitBreaker

	lifecycleMu sync.Mutex
	destroyed   atomic.Bool

	// heartbeatOverride holds a hot-reloaded heartbeat threshold in seconds
	// (SPEC_FULL.md §4.12); 0 means "use cfg.HeartbeatSeconds". Only the
	// liveness threshold is reloadable this way — the sweep ticker's period
	// is fixed for the lifetime of one Start/Shutdown cycle so a reload
	// never splits one sweep cycle across two periods.
	heartbeatOverride atomic.Int64

	dispatcher *dispatcher
	stopSweep  chan struct{}
	pumpDone   chan struct{}
	sweepDone  chan struct{}

	inFlight int64 // atomic; dispatcher jobs currently executing
}

var _ eventbus.Bus = (*Manager)(nil)

// New constructs an uninitialized Manager. Call Init before Start.
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}
	m.destroyed.Store(true)
	empty := make([]ProtocolDataListener, 0)
	m.dataListeners.Store(&empty)
	return m
}

// Init configures the Manager. If bus is nil, or is the Manager itself (a
// caller accidentally passing the Manager back as its own event bus), a
// fresh in-process bus is used instead to avoid an infinite notification
// loop (spec.md §4.1).
func (m *Manager) Init(cfg Config, bus eventbus.Bus) {
	m.cfg = cfg.clamp()
	if bus == nil || bus == eventbus.Bus(m) {
		bus = eventbus.NewInProcess()
	}
	m.bus = bus
	m.registry = registry.New()
	m.retryQueue = registry.NewRetryQueue()
	cache, _ := lru.New[string, int64](4096)
	m.ackCache = cache
}

// UpdateHeartbeat hot-reloads the liveness threshold (SPEC_FULL.md §4.12):
// the next liveness sweep picks it up; the sweeper's ticker period is left
// alone for the remainder of the current cycle. Values below
// MinHeartbeatSeconds are clamped, matching Init's behavior.
func (m *Manager) UpdateHeartbeat(seconds int) {
	if seconds < MinHeartbeatSeconds {
		seconds = MinHeartbeatSeconds
	}
	m.heartbeatOverride.Store(int64(seconds))
}

func (m *Manager) heartbeatThreshold() time.Duration {
	if secs := m.heartbeatOverride.Load(); secs != 0 {
		return time.Duration(secs) * time.Second
	}
	return m.cfg.Heartbeat()
}

// Running reports whether Start has been called without a matching Shutdown.
func (m *Manager) Running() bool { return !m.destroyed.Load() }

// State renders a coarse lifecycle label for admin/stats surfaces.
func (m *Manager) State() string {
	if m.registry == nil {
		return "uninit"
	}
	if m.destroyed.Load() {
		return "ready"
	}
	return "running"
}

// Start transitions the Manager from stopped to running, starting the
// dispatcher, retry pump and liveness sweeper. Calling Start while already
// running logs a warning and is otherwise a no-op (spec.md §4.7).
func (m *Manager) Start() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.destroyed.CompareAndSwap(true, false) {
		m.logger.Warn("connector: start called while already running")
		return
	}

	m.dispatcher = newDispatcher(m, m.cfg.DispatcherWorkers, m.cfg.PreserveOrder)
	m.stopSweep = make(chan struct{})
	m.pumpDone = make(chan struct{})
	m.sweepDone = make(chan struct{})

	go m.runRetryPump()
	go m.runSweeper()
}

// Shutdown transitions the Manager from running to stopped: it stops
// accepting new work, waits (up to Config.ShutdownDrainTimeout) for the
// dispatcher and retry pump to drain, then interrupts the liveness sweeper,
// which clears the registry and data listeners. Calling Shutdown while not
// running logs a warning and is otherwise a no-op.
func (m *Manager) Shutdown() {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.destroyed.CompareAndSwap(false, true) {
		m.logger.Warn("connector: shutdown called while not running")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownDrainTimeout)
	defer cancel()

	if err := m.dispatcher.Drain(ctx); err != nil {
		m.logger.Warn("connector: dispatcher drain timed out", "err", err)
	}

	select {
	case <-m.pumpDone:
	case <-ctx.Done():
		m.logger.Warn("connector: retry pump did not drain before shutdown deadline")
	}

	<-m.sweepDone
}

// Register installs ch as the live channel for its id. If a different
// instance was already registered under that id, the old one is closed with
// CauseSystem and replaced; registering the exact same instance twice is a
// no-op (spec.md §4.1, §9).
func (m *Manager) Register(ch dchannel.Channel) {
	if m.destroyed.Load() {
		m.logger.Warn("connector: register called while not running", "channel_id", ch.ID())
		return
	}

	outcome, evicted := m.registry.Register(ch)
	switch outcome {
	case registry.Installed:
		ch.Heartbeat()
		m.bus.OnRegister(ch.ID())
	case registry.Replaced:
		_ = evicted.Close()
		m.bus.OnClose(ch.ID(), eventbus.CauseSystem)
		ch.Heartbeat()
		m.bus.OnRegister(ch.ID())
	case registry.NoOp:
		m.logger.Warn("connector: register called twice for the same channel instance", "channel_id", ch.ID())
	}
}

// Receive hands a raw inbound frame off to the dispatcher. It returns
// immediately; classification, heartbeat stamping and listener dispatch all
// happen on a dispatcher worker (spec.md §4.2).
func (m *Manager) Receive(raw []byte, channelID string) {
	m.bus.OnReceive(channelID, raw)
	if m.destroyed.Load() {
		m.logger.Warn("connector: receive called while not running", "channel_id", channelID)
		return
	}
	m.dispatcher.Submit(channelID, raw)
}

// handleReceive runs on a dispatcher worker: it stamps liveness, decodes the
// frame, and classifies it as heartbeat, ack, or business (spec.md §4.2).
func (m *Manager) handleReceive(channelID string, raw []byte) {
	ch, ok := m.registry.Get(channelID)
	if !ok {
		m.logger.Debug("connector: receive for unknown channel", "channel_id", channelID)
		return
	}

	// Heartbeat reflex: liveness is stamped before classification, so a
	// malformed frame still counts as proof of life (spec.md §4.4).
	ch.Heartbeat()

	pd, err := protocol.New(raw, channelID)
	if err != nil {
		m.bus.OnReceiveError(channelID, raw, err)
		return
	}
	d, err := protocol.Decode(raw)
	if err != nil {
		m.bus.OnReceiveError(channelID, raw, err)
		return
	}
	m.bus.OnReceiveSuccess(channelID, d)

	switch d.Type {
	case protocol.TypeHeartbeat:
		m.replyHeartbeat(ch, channelID)
	case protocol.TypeAck:
		m.handleAck(d)
	default:
		m.dispatchBusiness(channelID, pd)
	}
}

func (m *Manager) replyHeartbeat(ch dchannel.Channel, channelID string) {
	hb, err := protocol.New(protocol.BuildHeartbeat(ch.Port(), ch.RemoteHost(), channelID), channelID)
	if err != nil {
		return
	}
	m.Write(hb)
}

func (m *Manager) handleAck(d protocol.Datagram) {
	id := d.IDKey()
	if removed := m.retryQueue.Remove(id); removed {
		m.ackCache.Add(id, time.Now().UnixMilli())
		return
	}
	if _, known := m.ackCache.Get(id); known {
		m.logger.Debug("connector: duplicate ack ignored", "datagram_id", id)
		return
	}
	m.logger.Debug("connector: ack for unknown datagram", "datagram_id", id)
}

func (m *Manager) dispatchBusiness(channelID string, pd protocol.ProtocolData) {
	for _, l := range m.snapshotDataListeners() {
		breaker := m.breakerFor(l)
		_, err := breaker.Execute(func() (any, error) {
			return nil, m.invokeListener(l, pd)
		})
		if err != nil {
			m.bus.OnReceiveError(channelID, pd.Bytes, err)
		}
	}
}

func (m *Manager) invokeListener(l ProtocolDataListener, pd protocol.ProtocolData) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector: listener panicked: %v", r)
		}
	}()
	return l.OnData(pd)
}

func (m *Manager) breakerFor(l ProtocolDataListener) *gobreaker.CircuitBreaker {
	if v, ok := m.breakers.Load(l); ok {
		return v.(*gobreaker.CircuitBreaker)
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "connector.data_listener",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	actual, _ := m.breakers.LoadOrStore(l, cb)
	return actual.(*gobreaker.CircuitBreaker)
}

// Write sends pd to its channel and, if the datagram carries an ack-request
// flag, enqueues it on the retry queue for the retry pump to resend until
// acked or exhausted (spec.md §4.1, §4.3).
//
// [OPEN QUESTION, spec.md §9] When the Manager is mid-shutdown, the write
// below still happens even though the retry-queue enqueue is skipped. This
// mirrors a known inconsistency in the source behavior and is preserved
// rather than silently fixed.
func (m *Manager) Write(pd protocol.ProtocolData) error {
	ch, ok := m.registry.Get(pd.ChannelID)
	if !ok {
		m.logger.Warn("connector: write to unknown channel", "channel_id", pd.ChannelID)
		return nil
	}

	err := ch.Write(pd.Bytes)
	m.bus.OnSend(pd)
	if err != nil {
		m.logger.Warn("connector: write failed", "channel_id", pd.ChannelID, "err", err)
	}

	d, decodeErr := protocol.Decode(pd.Bytes)
	if decodeErr != nil || !d.Ack {
		return err
	}

	if m.destroyed.Load() {
		m.bus.OnDiscard(pd, "destroyed")
		return err
	}

	m.retryQueue.Add(d.IDKey(), pd)
	return err
}

// Close removes and closes the channel for id, reporting cause on the event
// bus. Calling Close outside the running state logs a warning and is
// otherwise a no-op; calling it twice for the same id is a safe no-op on the
// second call (spec.md §4.1, §8 at-most-once close).
func (m *Manager) Close(channelID string, cause eventbus.CloseCause) {
	if m.destroyed.Load() {
		m.logger.Warn("connector: close called while not running", "channel_id", channelID)
		return
	}
	m.closeChannel(channelID, cause)
}

func (m *Manager) closeChannel(id string, cause eventbus.CloseCause) {
	if id == "" {
		m.logger.Warn("connector: close called with empty channel id")
		return
	}
	ch, ok := m.registry.Unregister(id)
	if !ok {
		m.logger.Debug("connector: close called for unknown or already-closed channel", "channel_id", id)
		return
	}
	_ = ch.Close()
	m.bus.OnClose(id, cause)
}

// closeExact closes ch for id only if it is still the instance registered
// under that id, via registry.RemoveExact. This is what the liveness sweep
// must use instead of closeChannel: the sweep snapshots (id, ch) pairs
// during a Range pass, and a concurrent Register can replace that instance
// with a freshly-heartbeated one before the sweep gets around to closing it.
// An unconditional Unregister(id) would evict and close that new, live
// instance — violating the single-live-channel invariant (spec.md §8). If
// RemoveExact reports the instance no longer matches, the sweep simply
// leaves the (now-current) entry alone; it was never stale.
func (m *Manager) closeExact(id string, ch dchannel.Channel, cause eventbus.CloseCause) {
	if !m.registry.RemoveExact(id, ch) {
		m.logger.Debug("connector: sweep skipped close, channel was replaced", "channel_id", id)
		return
	}
	_ = ch.Close()
	m.bus.OnClose(id, cause)
}

// RegisterDataListener adds l to the set invoked for every business
// datagram. Registration uses the same copy-on-write discipline as the
// event bus so dispatch never blocks on concurrent registration.
func (m *Manager) RegisterDataListener(l ProtocolDataListener) (unsubscribe func()) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	cur := *m.dataListeners.Load()
	next := make([]ProtocolDataListener, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = l
	m.dataListeners.Store(&next)

	var once sync.Once
	return func() {
		once.Do(func() { m.removeDataListener(l) })
	}
}

func (m *Manager) removeDataListener(target ProtocolDataListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	cur := *m.dataListeners.Load()
	next := make([]ProtocolDataListener, 0, len(cur))
	for _, l := range cur {
		if l != target {
			next = append(next, l)
		}
	}
	m.dataListeners.Store(&next)
}

func (m *Manager) snapshotDataListeners() []ProtocolDataListener {
	return *m.dataListeners.Load()
}

func (m *Manager) clearDataListeners() {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	empty := make([]ProtocolDataListener, 0)
	m.dataListeners.Store(&empty)
}

// RegisterEventListener subscribes l to every event-bus notification this
// Manager emits. It is a thin passthrough to the underlying Bus.
func (m *Manager) RegisterEventListener(l ProtocolEventListener) (unsubscribe func()) {
	return m.bus.Subscribe(l)
}

// The methods below are thin delegations to the underlying event bus,
// letting business code outside the dispatcher report the same notification
// kinds the Manager itself emits (spec.md §4.1).

func (m *Manager) Send(pd protocol.ProtocolData) { m.bus.OnSend(pd) }

func (m *Manager) Discard(pd protocol.ProtocolData, reason string) {
	m.bus.OnDiscard(pd, reason)
}

func (m *Manager) ReceiveError(channelID string, raw []byte, err error) {
	m.bus.OnReceiveError(channelID, raw, err)
}

func (m *Manager) ReceiveSuccess(channelID string, d protocol.Datagram) {
	m.bus.OnReceiveSuccess(channelID, d)
}

func (m *Manager) ReceiveEvent(channelID string, raw []byte) { m.bus.OnReceive(channelID, raw) }

// Subscribe and the On* methods below make *Manager itself satisfy
// eventbus.Bus, so it can be handed to collaborators that only know about
// the Bus interface (and so Init can detect the self-reference case above).

func (m *Manager) Subscribe(l eventbus.Listener) (unsubscribe func()) { return m.bus.Subscribe(l) }
func (m *Manager) OnRegister(channelID string)                       { m.bus.OnRegister(channelID) }
func (m *Manager) OnReceive(channelID string, raw []byte)            { m.bus.OnReceive(channelID, raw) }
func (m *Manager) OnReceiveSuccess(channelID string, d protocol.Datagram) {
	m.bus.OnReceiveSuccess(channelID, d)
}
func (m *Manager) OnReceiveError(channelID string, raw []byte, err error) {
	m.bus.OnReceiveError(channelID, raw, err)
}
func (m *Manager) OnSend(pd protocol.ProtocolData) { m.bus.OnSend(pd) }
func (m *Manager) OnDiscard(pd protocol.ProtocolData, reason string) {
	m.bus.OnDiscard(pd, reason)
}
func (m *Manager) OnClose(channelID string, cause eventbus.CloseCause) {
	m.bus.OnClose(channelID, cause)
}
func (m *Manager) OnCustom(event string, attrs map[string]any) { m.bus.OnCustom(event, attrs) }

// Stats snapshots counters for the admin surface (SPEC_FULL.md §4.11).
type Stats struct {
	State          string `json:"state"`
	Channels       int    `json:"channels"`
	PendingRetries int    `json:"pending_retries"`
	InFlight       int64  `json:"in_flight"`
}

func (m *Manager) Stats() Stats {
	s := Stats{State: m.State()}
	if m.registry != nil {
		s.Channels = m.registry.Len()
	}
	if m.retryQueue != nil {
		s.PendingRetries = m.retryQueue.Len()
	}
	s.InFlight = atomic.LoadInt64(&m.inFlight)
	return s
}

// channelID adapts a plain channel id string to subset.Subset's Member
// constraint (comparable + String() string).
type channelID string

func (c channelID) String() string { return string(c) }

// ChannelSample deterministically picks up to n registered channel ids for
// selectKey, for admin/debug surfaces that want a reproducible sample
// instead of every live channel (e.g. a "show me some connections" debug
// endpoint on a registry with tens of thousands of entries). Grounded on
// the teacher's infra/transport/subset.Subset, repurposed here from
// backend-replica selection to admin sampling.
func (m *Manager) ChannelSample(selectKey string, n int) []string {
	ids := m.registry.Keys()
	members := make([]channelID, len(ids))
	for i, id := range ids {
		members[i] = channelID(id)
	}
	picked := subset.Subset(selectKey, members, n)
	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = string(p)
	}
	return out
}
