package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := Datagram{
		Type: 7,
		ID:   []byte("msg-1"),
		Ack:  true,
		Body: []byte("hello"),
	}

	b := Encode(d)
	got, err := Decode(b)
	require.NoError(t, err)

	assert.Equal(t, d.Type, got.Type)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.Ack, got.Ack)
	assert.Equal(t, d.Body, got.Body)
	assert.Equal(t, "msg-1", got.IDKey())
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := Decode([]byte{0, 1})
	assert.Error(t, err)
}

func TestDecodeTruncatedID(t *testing.T) {
	b := []byte{0, 0, 0, 10, 'a'} // id length 10 but only 1 byte follows
	_, err := Decode(b)
	assert.Error(t, err)
}

func TestBuildHeartbeat(t *testing.T) {
	b := BuildHeartbeat(9000, "10.0.0.1", "chan-1")
	d, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, d.Type)
	assert.Equal(t, "chan-1", d.IDKey())
	assert.Contains(t, string(d.Body), "10.0.0.1:9000")
}

func TestBuildAck(t *testing.T) {
	b := BuildAck([]byte("m1"))
	d, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, TypeAck, d.Type)
	assert.Equal(t, "m1", d.IDKey())
}

func TestNewProtocolDataValidation(t *testing.T) {
	_, err := New(nil, "chan-1")
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = New([]byte("x"), "")
	assert.ErrorIs(t, err, ErrEmptyChannelID)

	pd, err := New([]byte("x"), "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "chan-1", pd.ChannelID)
}
