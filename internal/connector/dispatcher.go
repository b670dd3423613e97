package connector

import (
	"context"
	"sync/atomic"

	"github.com/webitel/connector-manager/internal/shard"
	"golang.org/x/sync/semaphore"
)

// dispatcher hands inbound frames off to a bounded pool of handlers so
// Receive itself never blocks the transport goroutine that called it
// (spec.md §4.2, SPEC_FULL.md §4.10).
//
// In the default (unordered) mode, every frame gets its own goroutine gated
// by a weighted semaphore, bounding in-flight concurrency without bounding
// goroutine creation. When PreserveOrder is set, frames are instead routed
// to one of a fixed set of per-shard queues picked by an FNV hash of the
// channel id modulo the shard count, so a single channel's frames are always
// handled by the same goroutine, one at a time. Each frame is enqueued from
// its own goroutine, so arrival order within a channel is not guaranteed.
type dispatcher struct {
	manager *Manager
	workers int
	sem     *semaphore.Weighted

	preserveOrder bool
	shards        []chan dispatchJob
}

type dispatchJob struct {
	channelID string
	raw       []byte
}

func newDispatcher(m *Manager, workers int, preserveOrder bool) *dispatcher {
	d := &dispatcher{
		manager:       m,
		workers:       workers,
		sem:           semaphore.NewWeighted(int64(workers)),
		preserveOrder: preserveOrder,
	}
	if preserveOrder {
		d.shards = make([]chan dispatchJob, workers)
		for i := range d.shards {
			ch := make(chan dispatchJob, 256)
			d.shards[i] = ch
			go d.shardLoop(ch)
		}
	}
	return d
}

func (d *dispatcher) shardLoop(ch chan dispatchJob) {
	for j := range ch {
		d.run(j)
	}
}

// Submit enqueues a frame for handling. It never blocks the caller: the
// ordered path hands the send to a throwaway goroutine, and the unordered
// path acquires its concurrency slot inside a fresh goroutine too.
func (d *dispatcher) Submit(channelID string, raw []byte) {
	j := dispatchJob{channelID: channelID, raw: raw}
	if d.preserveOrder {
		idx := shard.IndexFor(channelID, len(d.shards))
		ch := d.shards[idx]
		go func() { ch <- j }()
		return
	}
	go func() {
		if err := d.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		d.run(j)
	}()
}

func (d *dispatcher) run(j dispatchJob) {
	atomic.AddInt64(&d.manager.inFlight, 1)
	defer atomic.AddInt64(&d.manager.inFlight, -1)
	d.manager.handleReceive(j.channelID, j.raw)
}

// Drain blocks until every in-flight unordered job has released its slot,
// or ctx expires. Ordered shards are closed outright: each shardLoop drains
// its own backlog and exits once its channel is closed and empty.
func (d *dispatcher) Drain(ctx context.Context) error {
	if d.preserveOrder {
		for _, ch := range d.shards {
			close(ch)
		}
		return nil
	}
	return d.sem.Acquire(ctx, int64(d.workers))
}
