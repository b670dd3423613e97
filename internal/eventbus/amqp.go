package eventbus

import (
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/webitel/connector-manager/internal/domain/protocol"
)

// wireEvent is the JSON envelope published to the broker for every
// notification, grounded on the teacher's internal/adapter/pubsub
// EventDispatcher (marshal-then-publish shape).
type wireEvent struct {
	Kind       string `json:"kind"`
	ChannelID  string `json:"channel_id,omitempty"`
	DatagramID string `json:"datagram_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Cause      string `json:"cause,omitempty"`
	Err        string `json:"err,omitempty"`
	Attrs      any    `json:"attrs,omitempty"`
}

const (
	topicPrefix = "connector.events."
)

// AMQPBus fans every notification out to local in-process subscribers (so
// in-process listeners keep working unmodified) and publishes a JSON copy
// to a topic-per-kind on a watermill publisher, matching the teacher's
// im_delivery.* routing-key convention.
type AMQPBus struct {
	*InProcess
	pub    message.Publisher
	logger *slog.Logger
}

var _ Bus = (*AMQPBus)(nil)

// NewAMQPBus wraps pub (typically built from watermill-amqp/v3) as an event
// bus backend.
func NewAMQPBus(pub message.Publisher, logger *slog.Logger) *AMQPBus {
	return &AMQPBus{InProcess: NewInProcess(), pub: pub, logger: logger}
}

func (b *AMQPBus) publish(kind string, ev wireEvent) {
	ev.Kind = kind
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("eventbus: marshal failure", "kind", kind, "err", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pub.Publish(topicPrefix+kind, msg); err != nil {
		b.logger.Warn("eventbus: publish failure", "kind", kind, "err", err)
	}
}

func (b *AMQPBus) OnRegister(channelID string) {
	b.InProcess.OnRegister(channelID)
	b.publish("register", wireEvent{ChannelID: channelID})
}

func (b *AMQPBus) OnReceive(channelID string, raw []byte) {
	b.InProcess.OnReceive(channelID, raw)
	b.publish("receive", wireEvent{ChannelID: channelID})
}

func (b *AMQPBus) OnReceiveSuccess(channelID string, d protocol.Datagram) {
	b.InProcess.OnReceiveSuccess(channelID, d)
	b.publish("receive_success", wireEvent{ChannelID: channelID, DatagramID: d.IDKey()})
}

func (b *AMQPBus) OnReceiveError(channelID string, raw []byte, err error) {
	b.InProcess.OnReceiveError(channelID, raw, err)
	b.publish("receive_error", wireEvent{ChannelID: channelID, Err: err.Error()})
}

func (b *AMQPBus) OnSend(payload protocol.ProtocolData) {
	b.InProcess.OnSend(payload)
	b.publish("send", wireEvent{ChannelID: payload.ChannelID})
}

func (b *AMQPBus) OnDiscard(payload protocol.ProtocolData, reason string) {
	b.InProcess.OnDiscard(payload, reason)
	b.publish("discard", wireEvent{ChannelID: payload.ChannelID, Reason: reason})
}

func (b *AMQPBus) OnClose(channelID string, cause CloseCause) {
	b.InProcess.OnClose(channelID, cause)
	b.publish("close", wireEvent{ChannelID: channelID, Cause: string(cause)})
}

func (b *AMQPBus) OnCustom(event string, attrs map[string]any) {
	b.InProcess.OnCustom(event, attrs)
	b.publish("custom."+event, wireEvent{Attrs: attrs})
}
