package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/urfave/cli/v3"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/runpod"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a local HTTP test API (POST /runsync) instead of the platform loop",
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

			e := runpod.NewLocalAPI(handler)
			addr := fmt.Sprintf("%s:%d", cfg.Local.Host, cfg.Local.Port)

			go func() {
				<-ctx.Done()
				e.Shutdown(context.Background())
			}()

			if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}
