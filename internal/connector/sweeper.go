package connector

import (
	"time"

	"github.com/webitel/connector-manager/internal/domain/dchannel"
	"github.com/webitel/connector-manager/internal/eventbus"
)

// runSweeper is the liveness sweeper goroutine (spec.md §4.4). Its period is
// heartbeat/5 seconds; a channel that has not been heard from in more than
// one full heartbeat interval is closed with CauseTimeout. The sweeper stops
// only when the retry pump closes stopSweep, which only happens once the
// pump has confirmed destroyed is true — so by the time that signal arrives
// here it is never spurious in this Manager's lifecycle, but the check is
// kept anyway to make the invariant explicit rather than assumed.
func (m *Manager) runSweeper() {
	defer close(m.sweepDone)

	ticker := time.NewTicker(m.cfg.SweepPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-m.stopSweep:
			if m.destroyed.Load() {
				m.registry.Clear()
				m.clearDataListeners()
				return
			}
			m.logger.Warn("connector: sweeper received stop signal while still running, ignoring")
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// staleChannel pairs an id with the exact instance observed stale during
// Range, so the close below can verify it is still that instance before
// evicting it (see closeExact).
type staleChannel struct {
	id string
	ch dchannel.Channel
}

func (m *Manager) sweepOnce() {
	threshold := m.heartbeatThreshold()
	now := time.Now()

	var stale []staleChannel
	m.registry.Range(func(id string, ch dchannel.Channel) bool {
		if now.Sub(ch.LastActive()) > threshold {
			stale = append(stale, staleChannel{id: id, ch: ch})
		}
		return true
	})

	for _, s := range stale {
		m.closeExact(s.id, s.ch, eventbus.CauseTimeout)
	}
}
