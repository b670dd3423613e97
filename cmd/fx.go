package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ThreeDotsLabs/watermill/message"
	amqpwm "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/webitel/connector-manager/config"
	"github.com/webitel/connector-manager/internal/admin"
	"github.com/webitel/connector-manager/internal/connector"
	"github.com/webitel/connector-manager/internal/connector/examplelistener"
	"github.com/webitel/connector-manager/internal/discovery"
	"github.com/webitel/connector-manager/internal/eventbus"
	"github.com/webitel/connector-manager/internal/logging"
	"github.com/webitel/connector-manager/internal/transport/tcp"
	"github.com/webitel/connector-manager/internal/transport/ws"
)

// NewApp assembles the fx.App graph: config, logging, the event bus, the
// Connector Manager and its transports, and the admin surface, mirroring
// the teacher's fx.New(...) module-list shape (cmd/fx.go) with providers
// re-pointed at this service's own modules (SPEC_FULL.md §1.1).
func NewApp(cfg *config.Config, v *viper.Viper) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			func() *viper.Viper { return v },
			provideLogger,
			provideEventBus,
			provideDiscovery,
			provideManager,
		),
		fx.Invoke(
			registerDataListeners,
			registerTransports,
			registerAdminHTTP,
			registerAdminGRPC,
			registerDiscovery,
		),
	)
}

func provideLogger(cfg *config.Config) (*slog.Logger, error) {
	logger, _, err := logging.New(cfg.Log, ServiceName)
	return logger, err
}

func provideEventBus(cfg *config.Config, logger *slog.Logger) (eventbus.Bus, error) {
	switch cfg.EventBus.Backend {
	case "amqp":
		pub, err := amqpwm.NewPublisher(amqpwm.NewDurablePubSubConfig(cfg.EventBus.AMQP.URI, nil), nil)
		if err != nil {
			return nil, fmt.Errorf("cmd: amqp publisher: %w", err)
		}
		return eventbus.NewAMQPBus(message.Publisher(pub), logger), nil
	default:
		return eventbus.NewInProcess(), nil
	}
}

func provideDiscovery() discovery.Registrar {
	return discovery.Noop{}
}

// provideManager constructs and registers the Connector Manager's
// Init/Start/Shutdown calls onto the fx lifecycle, so it comes up after its
// dependencies and tears down before them (spec.md §4.7).
func provideManager(lc fx.Lifecycle, cfg *config.Config, v *viper.Viper, bus eventbus.Bus, logger *slog.Logger) *connector.Manager {
	m := connector.New(logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			m.Init(connector.Config{
				HeartbeatSeconds:     cfg.Connector.HeartbeatSeconds,
				DispatcherWorkers:    cfg.Dispatcher.Workers,
				PreserveOrder:        cfg.Dispatcher.PreserveOrder,
				ShutdownDrainTimeout: cfg.Connector.ShutdownDrainTimeout,
			}, bus)
			m.Start()
			if v != nil {
				config.Watch(v, func(updated *config.Config) {
					logger.Info("connector-manager: configuration reloaded")
					m.UpdateHeartbeat(updated.Connector.HeartbeatSeconds)
				})
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			m.Shutdown()
			return nil
		},
	})
	return m
}

func registerDataListeners(logger *slog.Logger, m *connector.Manager) {
	m.RegisterDataListener(examplelistener.New(logger))
}

// registerTransports starts the raw TCP and WebSocket front-ends the
// Connector Manager listens on, stopping them again on shutdown.
func registerTransports(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, m *connector.Manager) {
	if cfg.Transport.TCP.Enabled {
		tcpListener := tcp.New(cfg.Transport.TCP.Addr, m, logger)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := tcpListener.ListenAndServe(); err != nil {
						logger.Error("tcp transport stopped", "err", err)
					}
				}()
				return nil
			},
		})
	}

	if cfg.Transport.WS.Enabled {
		wsHandler := ws.New(logger, m)
		mux := http.NewServeMux()
		mux.Handle(cfg.Transport.WS.Path, wsHandler)
		srv := &http.Server{Addr: cfg.Transport.WS.Addr, Handler: mux}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						logger.Error("ws transport stopped", "err", err)
					}
				}()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}
}

func registerAdminHTTP(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger, m *connector.Manager) {
	srv := &http.Server{Addr: cfg.Admin.HTTPAddr, Handler: admin.NewHTTPServer(m)}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("admin http server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func registerAdminGRPC(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) {
	srv, healthSrv := admin.NewGRPCServer()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := admin.Serve(srv, cfg.Admin.GRPCAddr); err != nil {
					logger.Error("admin grpc server stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			healthSrv.Shutdown()
			srv.GracefulStop()
			return nil
		},
	})
}

func registerDiscovery(lc fx.Lifecycle, cfg *config.Config, reg discovery.Registrar) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return reg.Register(ctx, ServiceName, cfg.Admin.HTTPAddr)
		},
		OnStop: func(ctx context.Context) error {
			return reg.Deregister(ctx, ServiceName)
		},
	})
}
