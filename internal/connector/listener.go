package connector

import (
	"github.com/webitel/connector-manager/internal/domain/protocol"
	"github.com/webitel/connector-manager/internal/eventbus"
)

// ProtocolDataListener receives every business (non-heartbeat, non-ack)
// datagram the dispatcher classifies. Implementations are registered per
// Manager and invoked behind a per-listener circuit breaker (spec.md §4.2,
// SPEC_FULL.md §4.9) so one misbehaving listener cannot starve the others.
type ProtocolDataListener interface {
	OnData(pd protocol.ProtocolData) error
}

// ProtocolEventListener is an alias for the event-bus Listener contract,
// kept under this name because spec.md refers to event-bus subscribers as
// "protocol event listeners" distinct from data listeners.
type ProtocolEventListener = eventbus.Listener
