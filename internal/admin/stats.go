// Package admin exposes operator-facing surfaces over the Connector
// Manager: a chi HTTP health/stats endpoint and a gRPC health+reflection
// server, grounded on the teacher's internal/domain/model/hub_stats.go
// shape and go-chi/grpc go.mod requires (SPEC_FULL.md §4.11).
package admin

import (
	"time"

	"github.com/webitel/connector-manager/internal/connector"
)

// Stats mirrors the teacher's HubStats/ShardStats JSON shape, repurposed
// from per-user-hub counts to the Connector Manager's registry/retry-queue
// counters.
type Stats struct {
	connector.Stats
	Uptime time.Duration `json:"uptime"`
}

// StatsProvider is implemented by *connector.Manager.
type StatsProvider interface {
	Stats() connector.Stats
}
