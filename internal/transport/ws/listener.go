// Package ws implements the WebSocket transport, grounded on the teacher's
// internal/handler/ws/delivery.go upgrade-then-pump-loop shape: the upgrade
// handshake and per-connection read loop are kept, generalized from the
// teacher's event-channel fan-out to reading framed bytes and feeding them
// to a Receiver (spec.md §1, §2).
package ws

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/webitel/connector-manager/internal/domain/dchannel"
	"github.com/webitel/connector-manager/internal/eventbus"
)

// Receiver is the subset of the Connector Manager this transport drives.
type Receiver interface {
	Register(ch dchannel.Channel)
	Receive(raw []byte, channelID string)
	Close(channelID string, cause eventbus.CloseCause)
}

// Handler upgrades inbound HTTP requests to WebSocket connections and pumps
// framed messages between the socket and the Connector Manager.
type Handler struct {
	logger   *slog.Logger
	receiver Receiver
	upgrader websocket.Upgrader
}

// New constructs a Handler. CheckOrigin is permissive by default, matching
// the teacher's handler (adjust for production deployments that need CORS
// restrictions).
func New(logger *slog.Logger, receiver Receiver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		receiver: receiver,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	host, port := splitRemote(r)
	channelID := uuid.NewString()

	ch := newConn(channelID, host, port, conn)
	h.receiver.Register(ch)
	defer h.receiver.Close(channelID, eventbus.CauseClient)

	h.logger.Info("ws: channel opened", "channel_id", channelID, "remote_host", host)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.logger.Debug("ws: channel closed", "channel_id", channelID, "err", err)
			return
		}
		h.receiver.Receive(payload, channelID)
	}
}

func splitRemote(r *http.Request) (host string, port int) {
	host = r.RemoteAddr
	return host, 0
}

// conn is the dchannel.Channel implementation backing one WebSocket
// connection.
type conn struct {
	*dchannel.Base
	ws *websocket.Conn
}

func newConn(id, host string, port int, wsConn *websocket.Conn) *conn {
	c := &conn{ws: wsConn}
	c.Base = dchannel.New(dchannel.Options{
		ID:         id,
		RemoteHost: host,
		Port:       port,
		Write:      c.write,
		Close:      wsConn.Close,
	})
	return c
}

func (c *conn) write(b []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, b)
}
