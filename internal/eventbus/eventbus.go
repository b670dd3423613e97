// Package eventbus defines the observability sink contract the Connector
// Manager re-exposes to callers (spec.md §2.3, §4.6) plus two concrete
// backends: an in-process default and a watermill/AMQP-backed one.
package eventbus

import (
	"github.com/webitel/connector-manager/internal/domain/protocol"
)

// CloseCause classifies why a channel was closed, surfaced on the
// close-with-cause notification.
type CloseCause string

const (
	CauseSystem  CloseCause = "SYSTEM"
	CauseTimeout CloseCause = "TIMEOUT"
	CauseClient  CloseCause = "CLIENT"
)

// Listener receives the full set of Connector Manager notifications:
// channel register, raw receive, receive-success, receive-error, send,
// discard, close-with-cause, and custom protocol events (spec.md §2.3).
// Every method must be non-blocking and must never panic the caller — the
// Manager never fails a protocol action because observability failed
// (spec.md §4.6).
type Listener interface {
	OnRegister(channelID string)
	OnReceive(channelID string, raw []byte)
	OnReceiveSuccess(channelID string, d protocol.Datagram)
	OnReceiveError(channelID string, raw []byte, err error)
	OnSend(payload protocol.ProtocolData)
	OnDiscard(payload protocol.ProtocolData, reason string)
	OnClose(channelID string, cause CloseCause)
	OnCustom(event string, attrs map[string]any)
}

// Bus is the full external event-bus contract: it is itself a Listener (so
// the Connector Manager can notify it directly) and additionally lets other
// observers subscribe to the same stream.
type Bus interface {
	Listener
	// Subscribe registers l to receive every notification this Bus sees.
	// The returned func removes l; it is safe to call more than once.
	Subscribe(l Listener) (unsubscribe func())
}

// noopListener satisfies Listener without doing anything; useful as a base
// for partial listener implementations (e.g. tests that only care about one
// callback).
type noopListener struct{}

func (noopListener) OnRegister(string) {}
func (noopListener) OnReceive(string, []byte) {}
func (noopListener) OnReceiveSuccess(string, protocol.Datagram) {}
func (noopListener) OnReceiveError(string, []byte, error) {}
func (noopListener) OnSend(protocol.ProtocolData) {}
func (noopListener) OnDiscard(protocol.ProtocolData, string) {}
func (noopListener) OnClose(string, CloseCause) {}
func (noopListener) OnCustom(string, map[string]any) {}

// NoopListener is a ready-to-embed Listener that does nothing.
var NoopListener Listener = noopListener{}
