// Package discovery defines the local seam for the discovery/configuration
// plane spec.md §1 names as an external collaborator ("only their
// interfaces are specified here"). The teacher's retrieved snapshot kept
// only the call site (cmd/fx.go's ProvideSD), never the source of its
// private webitel-go-kit discovery client, so this is a small interface a
// real service-discovery client would implement rather than a guess at a
// private API (see DESIGN.md).
package discovery

import "context"

// Registrar advertises this process's admin/transport endpoints to a
// discovery backend (Consul, etcd, a Webitel-internal registry, ...) and
// withdraws them on shutdown.
type Registrar interface {
	Register(ctx context.Context, serviceName string, addr string) error
	Deregister(ctx context.Context, serviceName string) error
}

// Noop is a Registrar that does nothing, used when no discovery backend is
// configured.
type Noop struct{}

func (Noop) Register(context.Context, string, string) error { return nil }
func (Noop) Deregister(context.Context, string) error        { return nil }

var _ Registrar = Noop{}
