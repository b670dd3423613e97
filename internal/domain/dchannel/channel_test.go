package dchannel

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsRandomIDWhenEmpty(t *testing.T) {
	ch := New(Options{})
	defer ch.Close()

	assert.NotEmpty(t, ch.ID())
}

func TestHeartbeatAdvancesLastActive(t *testing.T) {
	ch := New(Options{ID: "c1"})
	defer ch.Close()

	first := ch.LastActive()
	time.Sleep(2 * time.Millisecond)
	ch.Heartbeat()

	assert.True(t, ch.LastActive().After(first))
}

func TestWriteDelegatesToWriter(t *testing.T) {
	var got []byte
	ch := New(Options{
		ID: "c1",
		Write: func(b []byte) error {
			got = b
			return nil
		},
	})
	defer ch.Close()

	require.NoError(t, ch.Write([]byte("hello")))
	assert.Equal(t, []byte("hello"), got)
}

func TestWriteWithoutWriterIsNoOp(t *testing.T) {
	ch := New(Options{ID: "c1"})
	defer ch.Close()

	assert.NoError(t, ch.Write([]byte("x")))
}

func TestCloseIsCalledAtMostOnce(t *testing.T) {
	calls := 0
	ch := New(Options{
		ID: "c1",
		Close: func() error {
			calls++
			return nil
		},
	})

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	assert.Equal(t, 1, calls)
}

func TestCloseReturnsCloserError(t *testing.T) {
	wantErr := errors.New("boom")
	ch := New(Options{
		ID:    "c1",
		Close: func() error { return wantErr },
	})

	assert.ErrorIs(t, ch.Close(), wantErr)
}

func TestCloseConcurrentIsSafe(t *testing.T) {
	calls := 0
	ch := New(Options{
		ID:    "c1",
		Close: func() error { calls++; return nil },
	})

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			ch.Close()
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 1, calls)
}
