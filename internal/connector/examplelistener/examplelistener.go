// Package examplelistener is a minimal ProtocolDataListener that logs every
// business datagram it receives. It stands in for the teacher's chat/peer
// business handlers (internal/handler/grpc, internal/handler/amqp, ...),
// which implement a concrete business protocol spec.md §1 places out of
// scope ("the upstream dispatcher/business listeners" are an external
// collaborator). It exists to show the listener seam working end-to-end
// without reimplementing a chat service.
package examplelistener

import (
	"log/slog"

	"github.com/webitel/connector-manager/internal/domain/protocol"
)

// Logger is a ProtocolDataListener that logs the channel id and payload
// size of every business datagram it is handed.
type Logger struct {
	logger *slog.Logger
}

// New constructs a Logger listener.
func New(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

// OnData implements connector.ProtocolDataListener.
func (l *Logger) OnData(pd protocol.ProtocolData) error {
	l.logger.Info("examplelistener: business datagram",
		"channel_id", pd.ChannelID,
		"bytes", len(pd.Bytes),
	)
	return nil
}
