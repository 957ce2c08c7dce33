package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/angeloszaimis/rule-proxy/config"
	"github.com/angeloszaimis/rule-proxy/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		slog.Error("rule-proxy exited", slog.Any("err", err))
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "rule-proxy",
		Usage: "rule-driven HTTP reverse proxy with a management API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML config file",
				Sources: cli.EnvVars("PROXY_CONFIG"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}

			log := logger.New(logger.Options{
				Level:       cfg.Logging.Level,
				Environment: cfg.Server.Environment,
				AddSource:   cfg.Server.Environment != config.EnvProd,
			})

			app, err := newApp(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("start: %w", err)
			}
			defer app.close()

			return app.run(ctx)
		},
	}
}
