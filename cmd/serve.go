package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

// ServeCommand returns the CLI command for starting the server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Slack webhook and web chat server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the server (overrides server.port)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	dispatcher, err := a.dispatcher(ctx)
	if err != nil {
		return err
	}

	log.Info().
		Str("background", cfg.Background.Driver).
		Str("checkpoint", cfg.Checkpoint.Driver).
		Float64("similarity_threshold", cfg.Cache.SimilarityThreshold).
		Msg("askbot ready")

	return a.server(dispatcher).Run(ctx)
}
