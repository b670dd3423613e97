package connector

import (
	"time"

	"github.com/webitel/connector-manager/internal/domain/registry"
)

// runRetryPump is the retry pump goroutine (spec.md §4.3). It keeps sweeping
// the retry queue on a fixed 100ms cadence for as long as the Manager is
// running, and for as long as anything is still pending after shutdown has
// begun — so a shutdown that races an in-flight retry still gets a chance to
// drain instead of abandoning it mid-flight. The drain after shutdown is
// bounded by Config.ShutdownDrainTimeout; entries still pending at that
// deadline are left in the queue. Once both conditions clear, or the
// deadline passes, it interrupts the liveness sweeper and exits.
func (m *Manager) runRetryPump() {
	defer close(m.pumpDone)

	var drainStart time.Time
	for {
		destroyed := m.destroyed.Load()
		empty := m.retryQueue.Empty()
		if destroyed && empty {
			break
		}
		if destroyed {
			if drainStart.IsZero() {
				drainStart = time.Now()
			} else if time.Since(drainStart) >= m.cfg.ShutdownDrainTimeout {
				break
			}
		}
		m.retrySweepOnce()
		time.Sleep(registry.RetryInterval * time.Millisecond)
	}

	close(m.stopSweep)
}

// retrySweepOnce runs one retry-queue pass: evict entries past MaxAttempts,
// drop entries whose channel is gone, otherwise bump the attempt counter and
// resend.
func (m *Manager) retrySweepOnce() {
	if m.retryQueue.Empty() {
		return
	}

	for id, rd := range m.retryQueue.Snapshot() {
		if rd.Attempts >= registry.MaxAttempts {
			m.retryQueue.Remove(id)
			m.bus.OnCustom("retry_exhausted", map[string]any{
				"datagram_id": id,
				"channel_id":  rd.Payload.ChannelID,
			})
			continue
		}

		ch, ok := m.registry.Get(rd.Payload.ChannelID)
		if !ok {
			m.retryQueue.Remove(id)
			continue
		}

		if _, ok := m.retryQueue.IncrementAttempts(id); !ok {
			// Acked concurrently between Snapshot and here.
			continue
		}

		if err := ch.Write(rd.Payload.Bytes); err != nil {
			m.logger.Warn("connector: retry write failed", "channel_id", rd.Payload.ChannelID, "datagram_id", id, "err", err)
		}
	}
}
