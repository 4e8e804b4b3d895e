package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/runpod"
)

func workerCmd() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the serverless worker loop against the platform's job webhooks",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			handler, engine, err := buildHandler(ctx, cfg)
			if err != nil {
				return fmt.Errorf("engine setup: %w", err)
			}
			defer engine.Close()

			w, err := runpod.NewWorkerFromEnv(handler)
			if err != nil {
				return err
			}

			slog.Info("starting worker", "engine", cfg.Comfy.Host)
			return w.Run(ctx)
		},
	}
}
