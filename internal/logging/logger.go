// Package logging constructs the process-wide *slog.Logger every other
// package takes by constructor injection (the teacher's call shape,
// though the provider file itself was filtered out of the retrieval), with
// an optional OTLP log bridge via otelslog.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/webitel/connector-manager/config"
)

// New builds the root logger for cfg. When cfg.OTLP is set, records are
// additionally bridged into an OTel LoggerProvider via otelslog so traces
// and logs correlate through the same SDK the admin gRPC surface
// instruments with (internal/admin).
func New(cfg config.LogConfig, serviceName string) (*slog.Logger, func(context.Context) error, error) {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	shutdown := func(context.Context) error { return nil }

	if cfg.OTLP {
		provider := sdklog.NewLoggerProvider()
		bridgeHandler := otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider))
		handler = fanoutHandler{primary: handler, secondary: bridgeHandler}
		shutdown = provider.Shutdown
	}

	return slog.New(handler), shutdown, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanoutHandler duplicates every record to both the human-readable handler
// and the OTel bridge, so operators keep stdout logs even when OTLP export
// is also enabled.
type fanoutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return f.primary.Enabled(ctx, level) || f.secondary.Enabled(ctx, level)
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	if f.primary.Enabled(ctx, record.Level) {
		if err := f.primary.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	if f.secondary.Enabled(ctx, record.Level) {
		if err := f.secondary.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("logging: fanout: %v", errs)
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return fanoutHandler{primary: f.primary.WithAttrs(attrs), secondary: f.secondary.WithAttrs(attrs)}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return fanoutHandler{primary: f.primary.WithGroup(name), secondary: f.secondary.WithGroup(name)}
}
