// Package protocol defines the wire-level datagram carried between the
// transport layer and the Connector Manager: a fixed-offset type byte, a
// length-prefixed id, an ack flag, and a body.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame layout:
//
//	byte 0      type            (0 = heartbeat, 2 = ack, other = business)
//	byte 1      flags           (bit0 = ack requested)
//	bytes 2-3   id length       (uint16 big-endian)
//	bytes 4..N  id              (ASCII/UTF-8)
//	bytes N..   body
const (
	TypeIndex  = 0
	flagsIndex = 1
	headerLen  = 4

	TypeHeartbeat byte = 0
	TypeAck       byte = 2

	flagAckRequested byte = 1 << 0
)

var (
	ErrEmptyPayload   = errors.New("protocol: payload bytes must not be empty")
	ErrEmptyChannelID = errors.New("protocol: channel id must not be empty")
)

// Datagram is the decoded view over a ProtocolData's raw bytes. Decoding is
// pure and allocation-light: ID and Body alias the input slice.
type Datagram struct {
	Type byte
	ID   []byte
	Ack  bool
	Body []byte
}

// IDKey returns the retry-queue key for this datagram: the id bytes
// interpreted directly as a string, sidestepping any platform-default
// charset ambiguity.
func (d Datagram) IDKey() string { return string(d.ID) }

// Decode parses raw bytes into a Datagram. It never mutates b.
func Decode(b []byte) (Datagram, error) {
	if len(b) < headerLen {
		return Datagram{}, fmt.Errorf("protocol: frame too short (%d bytes)", len(b))
	}
	idLen := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) < headerLen+idLen {
		return Datagram{}, fmt.Errorf("protocol: truncated id field (want %d, have %d)", idLen, len(b)-headerLen)
	}
	return Datagram{
		Type: b[TypeIndex],
		ID:   b[headerLen : headerLen+idLen],
		Ack:  b[flagsIndex]&flagAckRequested != 0,
		Body: b[headerLen+idLen:],
	}, nil
}

// Encode serializes a Datagram back into wire bytes.
func Encode(d Datagram) []byte {
	buf := make([]byte, headerLen+len(d.ID)+len(d.Body))
	buf[TypeIndex] = d.Type
	if d.Ack {
		buf[flagsIndex] = flagAckRequested
	}
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(d.ID)))
	copy(buf[headerLen:], d.ID)
	copy(buf[headerLen+len(d.ID):], d.Body)
	return buf
}

// BuildHeartbeat constructs a type-0 frame replying to the peer on the given
// channel, carrying the local port/remote host as diagnostic body text.
func BuildHeartbeat(port int, remoteHost, channelID string) []byte {
	return Encode(Datagram{
		Type: TypeHeartbeat,
		ID:   []byte(channelID),
		Body: fmt.Appendf(nil, "%s:%d", remoteHost, port),
	})
}

// BuildAck constructs a type-2 acknowledgement frame for the given datagram id.
func BuildAck(id []byte) []byte {
	return Encode(Datagram{Type: TypeAck, ID: id})
}

// ProtocolData is the immutable envelope for one inbound frame or outbound
// write: raw bytes plus the routing metadata the Connector Manager needs.
type ProtocolData struct {
	Bytes      []byte
	LocalPort  int
	RemoteHost string
	ChannelID  string
	Reserved   map[string]string
}

// New validates and constructs a ProtocolData.
func New(bytes []byte, channelID string) (ProtocolData, error) {
	if len(bytes) == 0 {
		return ProtocolData{}, ErrEmptyPayload
	}
	if channelID == "" {
		return ProtocolData{}, ErrEmptyChannelID
	}
	return ProtocolData{Bytes: bytes, ChannelID: channelID}, nil
}
