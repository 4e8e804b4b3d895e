package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/comfy"
)

// submitCmd runs one workflow file against a ComfyUI instance directly,
// bypassing the serverless surface. Useful for checking a workflow and the
// engine before wiring the worker up.
func submitCmd() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "Submit an API-format workflow JSON file and save its outputs",
		ArgsUsage: "workflow.json",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output-dir",
				Usage: "Directory to write fetched outputs to",
				Value: ".",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum time to wait for completion",
				Value: 10 * time.Minute,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one workflow file argument")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			workflow, err := os.ReadFile(cmd.Args().First())
			if err != nil {
				return err
			}

			var bar *progressbar.ProgressBar
			callbacks := &comfy.Callbacks{
				OnExecuting: func(promptID, nodeID string) {
					bar = nil
					slog.Info("executing node", "node", nodeID)
				},
				OnProgress: func(promptID string, value, max int) {
					if bar == nil {
						bar = progressbar.Default(int64(max))
					}
					bar.Set(value)
				},
			}

			engine := comfy.New(cfg.Comfy.Host,
				comfy.WithPollInterval(cfg.Comfy.PollInterval()),
				comfy.WithPollBudget(cfg.Comfy.PollMaxRetries),
				comfy.WithCallbacks(callbacks),
			)
			if err := engine.WaitForReady(ctx, cfg.Comfy.ReadyMaxRetries, cfg.Comfy.ReadyInterval()); err != nil {
				return err
			}
			if err := engine.Connect(ctx); err != nil {
				slog.Warn("notification channel unavailable, using history polling", "error", err)
			}
			defer engine.Close()

			promptID, err := engine.Submit(ctx, workflow)
			if err != nil {
				return err
			}

			ev, err := engine.AwaitCompletion(ctx, promptID, cmd.Duration("timeout"))
			if err != nil {
				return err
			}
			if !ev.Success {
				if ev.Err != nil {
					return fmt.Errorf("execution failed: %s: %s", ev.Err.ExceptionType, ev.Err.ExceptionMessage)
				}
				return fmt.Errorf("execution failed")
			}

			outDir := cmd.String("output-dir")
			for _, ref := range ev.Outputs {
				data, err := engine.FetchOutput(ctx, ref)
				if err != nil {
					return err
				}
				dest := filepath.Join(outDir, ref.Filename)
				if err := os.WriteFile(dest, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("wrote %s (%d bytes)\n", dest, len(data))
			}

			fmt.Printf("completed in %s, %d nodes executed\n", ev.Duration, ev.NodesExecuted)
			return nil
		},
	}
}
