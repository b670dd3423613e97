package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigClampAppliesHeartbeatFloor(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 5}.clamp()
	assert.Equal(t, MinHeartbeatSeconds, cfg.HeartbeatSeconds)
}

func TestConfigClampLeavesValidHeartbeatAlone(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 90}.clamp()
	assert.Equal(t, 90, cfg.HeartbeatSeconds)
}

func TestConfigClampDefaultsDispatcherWorkers(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 30}.clamp()
	assert.Greater(t, cfg.DispatcherWorkers, 0)
}

func TestConfigClampDefaultsShutdownDrainTimeout(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 30}.clamp()
	assert.Equal(t, 3*time.Second, cfg.ShutdownDrainTimeout)
}

func TestConfigClampPreservesExplicitValues(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 60, DispatcherWorkers: 7, ShutdownDrainTimeout: 9 * time.Second}.clamp()
	assert.Equal(t, 7, cfg.DispatcherWorkers)
	assert.Equal(t, 9*time.Second, cfg.ShutdownDrainTimeout)
}

func TestSweepPeriodIsHeartbeatDividedByFive(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 100}
	assert.Equal(t, 20*time.Second, cfg.SweepPeriod())
}

func TestSweepPeriodFloorsAtOneSecond(t *testing.T) {
	// Integer division of a small heartbeat by five can reach zero; the
	// sweeper still needs a positive ticker period.
	cfg := Config{HeartbeatSeconds: 3}
	assert.Equal(t, time.Second, cfg.SweepPeriod())
}

func TestHeartbeatDuration(t *testing.T) {
	cfg := Config{HeartbeatSeconds: 45}
	assert.Equal(t, 45*time.Second, cfg.Heartbeat())
}
