// Package tcp implements the raw, length-prefixed TCP transport: one of the
// "many transport-layer connections" spec.md §1 says terminate in this
// tier. No repo in the retrieval pack owns bare socket framing of this
// shape, so this is built directly against net/stdlib (see DESIGN.md).
package tcp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/webitel/connector-manager/internal/domain/dchannel"
	"github.com/webitel/connector-manager/internal/eventbus"
)

// frameLengthPrefix is the size, in bytes, of the big-endian length prefix
// this transport wraps around every protocol.ProtocolData frame. It is a
// transport-level concern, distinct from the protocol's own internal
// id-length prefix (internal/domain/protocol).
const frameLengthPrefix = 4

// maxFrameSize bounds a single inbound frame to guard against a peer
// sending a bogus length prefix that would otherwise drive an unbounded
// allocation.
const maxFrameSize = 1 << 20

// Receiver is the subset of the Connector Manager this transport drives.
type Receiver interface {
	Register(ch dchannel.Channel)
	Receive(raw []byte, channelID string)
	Close(channelID string, cause eventbus.CloseCause)
}

// Listener accepts raw TCP connections, frames them with a 4-byte
// big-endian length prefix, and feeds decoded payloads to a Receiver.
type Listener struct {
	addr     string
	receiver Receiver
	logger   *slog.Logger
}

// New constructs a Listener bound to addr.
func New(addr string, receiver Receiver, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{addr: addr, receiver: receiver, logger: logger}
}

// Serve blocks accepting connections until the listener is closed or ln.Close
// is called from another goroutine (the usual net.Listener shutdown idiom).
func (l *Listener) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("tcp: accept: %w", err)
		}
		go l.handle(conn)
	}
}

// ListenAndServe opens a net.Listener on l.addr and serves it.
func (l *Listener) ListenAndServe() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("tcp: listen %s: %w", l.addr, err)
	}
	return l.Serve(ln)
}

func (l *Listener) handle(conn net.Conn) {
	host, portStr, _ := net.SplitHostPort(conn.RemoteAddr().String())
	port, _ := strconv.Atoi(portStr)
	channelID := conn.RemoteAddr().String()

	ch := newConn(channelID, host, port, conn)
	l.receiver.Register(ch)
	defer l.receiver.Close(channelID, eventbus.CauseClient)
	defer conn.Close()

	r := bufio.NewReader(conn)
	lenBuf := make([]byte, frameLengthPrefix)
	for {
		if _, err := readFull(r, lenBuf); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				l.logger.Debug("tcp: connection closed", "channel_id", channelID, "err", err)
			}
			return
		}
		n := binary.BigEndian.Uint32(lenBuf)
		if n == 0 || n > maxFrameSize {
			l.logger.Warn("tcp: bogus frame length, dropping connection", "channel_id", channelID, "len", n)
			return
		}
		payload := make([]byte, n)
		if _, err := readFull(r, payload); err != nil {
			l.logger.Debug("tcp: connection closed mid-frame", "channel_id", channelID, "err", err)
			return
		}
		l.receiver.Receive(payload, channelID)
	}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// conn is the dchannel.Channel implementation backing one TCP connection.
// It wraps dchannel.Base, supplying the length-prefixed Write this
// transport's wire format requires.
type conn struct {
	*dchannel.Base
	net net.Conn
}

func newConn(id, host string, port int, nc net.Conn) *conn {
	c := &conn{net: nc}
	c.Base = dchannel.New(dchannel.Options{
		ID:         id,
		RemoteHost: host,
		Port:       port,
		Write:      c.write,
		Close:      nc.Close,
	})
	return c
}

func (c *conn) write(b []byte) error {
	lenBuf := make([]byte, frameLengthPrefix)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(b)))
	if _, err := c.net.Write(lenBuf); err != nil {
		return fmt.Errorf("tcp: write length prefix: %w", err)
	}
	if _, err := c.net.Write(b); err != nil {
		return fmt.Errorf("tcp: write payload: %w", err)
	}
	return nil
}
