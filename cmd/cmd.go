package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/urfave/cli/v2"

	"github.com/webitel/rpcmesh/config"
)

const (
	ServiceName      = "rpcmesh"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run builds and runs the urfave/cli app, the teacher's own serverCmd
// shape extended with the monitor subcommand this repo adds.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "rpc-mesh router and gateway",
		Commands: []*cli.Command{
			serverCmd(),
			monitorCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the router server (gRPC, WebSocket, and admin HTTP listeners)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config_file",
				Usage: "Path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "Bind host",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "gRPC listen port (the admin/ws HTTP listener binds port+1)",
			},
		},
		Action: func(c *cli.Context) error {
			fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
			fs.String("host", "", "")
			fs.Int("port", 0, "")
			if c.String("host") != "" {
				_ = fs.Set("host", c.String("host"))
			}
			if c.Int("port") != 0 {
				_ = fs.Set("port", c.String("port"))
			}

			cfg, v, err := config.Load(fs, c.String("config_file"))
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

			slog.Info("shutting down...")
			return app.Stop(context.Background())
		},
	}
}
