package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/connector-manager/config"
	"github.com/webitel/connector-manager/internal/tui"
)

const (
	ServiceName      = "connector-manager"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run builds and executes the urfave/cli/v2 command tree, matching the
// teacher's cmd.go shape: a "server" subcommand for process lifecycle, plus
// a "dashboard" subcommand for the operator TUI (SPEC_FULL.md §1.1).
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Connector Manager: front-end load-balancer/connector tier",
		Commands: []*cli.Command{
			serverCmd(),
			dashboardCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the Connector Manager",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config_file", Usage: "Path to the configuration file"},
			&cli.StringFlag{Name: "log.level", Usage: "Log level override (debug, info, warn, error)"},
			&cli.IntFlag{Name: "connector.heartbeat_seconds", Usage: "Heartbeat threshold override (floor 30)"},
		},
		Action: func(c *cli.Context) error {
			pflags := config.Flags()
			if v := c.String("log.level"); v != "" {
				_ = pflags.Set("log.level", v)
			}
			if v := c.Int("connector.heartbeat_seconds"); v != 0 {
				_ = pflags.Set("connector.heartbeat_seconds", c.String("connector.heartbeat_seconds"))
			}

			cfg, v, err := config.LoadConfig(c.String("config_file"), pflags)
			if err != nil {
				return err
			}

			app := NewApp(cfg, v)
			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("connector-manager: shutting down")
			return app.Stop(context.Background())
		},
	}
}

func dashboardCmd() *cli.Command {
	return &cli.Command{
		Name:  "dashboard",
		Usage: "Run the operator TUI dashboard against a running Connector Manager",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "stats_url", Value: "http://localhost:8080/stats", Usage: "Admin stats endpoint"},
			&cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "Poll interval"},
		},
		Action: func(c *cli.Context) error {
			return tui.Run(c.String("stats_url"), c.Duration("interval"))
		},
	}
}
