package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/driftsync/engine/internal/config"
	"github.com/driftsync/engine/internal/dashboard"
)

const (
	ServiceName      = "driftsync-engine"
	ServiceNamespace = "driftsync"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Offline-first multi-device sync engine",
		Commands: []*cli.Command{
			runCmd(),
			watchCmd(),
		},
	}

	return app.Run(os.Args)
}

var configFlag = &cli.StringFlag{
	Name:  "config_file",
	Usage: "Path to the configuration file",
	Value: "driftsync.yaml",
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Run the sync engine (outbox, subscription, gc, dashboard)",
		Flags:   []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			_, cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}
			app := NewApp(&cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}

// watchCmd attaches a termui terminal board to a running engine over its
// dashboard WebSocket endpoint, rather than standing up a second engine
// instance in the same process.
func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Attach a live terminal status board to a running engine",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{
				Name:  "addr",
				Usage: "ws://host:port/dashboard/ws of the running engine; defaults to the config's dashboard_addr",
			},
		},
		Action: func(c *cli.Context) error {
			_, cfg, err := config.Load(c.String("config_file"))
			if err != nil {
				return err
			}

			addr := c.String("addr")
			if addr == "" {
				addr = "ws://127.0.0.1" + cfg.Engine.DashboardAddr + "/dashboard/ws"
			}

			events, err := dashboard.DialRemote(c.Context, addr)
			if err != nil {
				return err
			}

			board := dashboard.NewWatchBoard(events, nil)
			return board.Run(c.Context)
		},
	}
}
