// Package dchannel defines the Channel contract the transport layer
// implements and the Connector Manager consumes, plus a pooled base
// implementation transports can embed.
package dchannel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Channel is one live client transport connection, identified by a stable
// id for the lifetime of the connection. Transports (TCP, WebSocket, ...)
// implement this; the Connector Manager only ever sees the interface.
type Channel interface {
	ID() string
	RemoteHost() string
	Port() int
	LastActive() time.Time
	Write(b []byte) error
	Heartbeat()
	Close() error
}

// Writer is supplied by a transport to perform the actual byte write; Base
// handles everything else (id, timestamps, close-once) so transports don't
// reimplement bookkeeping.
type Writer func(b []byte) error

// Base is a reusable Channel implementation. Transports construct one via
// New and supply their own Writer; it is returned to a sync.Pool on Close to
// minimize allocation under connection churn, mirroring the teacher's
// pooled connector.
type Base struct {
	id         string
	remoteHost string
	port       int
	writer     Writer
	closer     func() error

	lastActiveUnix int64 // unix millis, atomic
	closeOnce      sync.Once
	closeErr       error
}

var basePool = sync.Pool{New: func() any { return &Base{} }}

// Options configures a new Base channel.
type Options struct {
	ID         string
	RemoteHost string
	Port       int
	Write      Writer
	Close      func() error
}

// New acquires a Base from the pool and initializes it for a fresh
// connection. If Options.ID is empty a random id is generated.
func New(opts Options) *Base {
	b := basePool.Get().(*Base)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	*b = Base{
		id:         id,
		remoteHost: opts.RemoteHost,
		port:       opts.Port,
		writer:     opts.Write,
		closer:     opts.Close,
	}
	b.Heartbeat()
	return b
}

func (b *Base) ID() string         { return b.id }
func (b *Base) RemoteHost() string { return b.remoteHost }
func (b *Base) Port() int          { return b.port }

func (b *Base) LastActive() time.Time {
	return time.UnixMilli(atomic.LoadInt64(&b.lastActiveUnix))
}

// Heartbeat stamps the channel's activity timestamp. Every successful
// inbound receive calls this before classification, and every registration
// calls it once as well.
func (b *Base) Heartbeat() {
	atomic.StoreInt64(&b.lastActiveUnix, time.Now().UnixMilli())
}

func (b *Base) Write(p []byte) error {
	if b.writer == nil {
		return nil
	}
	return b.writer(p)
}

// Close tears the channel down exactly once, regardless of how many callers
// (Hub shutdown, liveness sweep, transport EOF) race to call it.
func (b *Base) Close() error {
	b.closeOnce.Do(func() {
		if b.closer != nil {
			b.closeErr = b.closer()
		}
		b.writer = nil
		b.closer = nil
		basePool.Put(b)
	})
	return b.closeErr
}
