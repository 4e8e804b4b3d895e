package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/comfy"
	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/config"
	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/runpod"
	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/uploader"
	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/worker"
)

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	setupLogging(cfg.Logging.Level)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// buildHandler wires engine client, collector and orchestrator into the
// runtime-facing handler. The engine readiness gate runs here, once, before
// any job is taken.
func buildHandler(ctx context.Context, cfg *config.Config) (runpod.Handler, *comfy.Client, error) {
	engine := comfy.New(cfg.Comfy.Host,
		comfy.WithPollInterval(cfg.Comfy.PollInterval()),
		comfy.WithPollBudget(cfg.Comfy.PollMaxRetries),
	)

	if err := engine.WaitForReady(ctx, cfg.Comfy.ReadyMaxRetries, cfg.Comfy.ReadyInterval()); err != nil {
		return nil, nil, err
	}
	if err := engine.Connect(ctx); err != nil {
		// the client falls back to history polling without the channel
		slog.Warn("notification channel unavailable, using history polling", "error", err)
	}

	var artifactUploader worker.ArtifactUploader
	if cfg.Bucket.EndpointURL != "" {
		up, err := uploader.New(ctx, uploader.Options{
			EndpointURL:     cfg.Bucket.EndpointURL,
			Bucket:          cfg.Bucket.Name,
			Region:          cfg.Bucket.Region,
			AccessKeyID:     cfg.Bucket.AccessKeyID,
			SecretAccessKey: cfg.Bucket.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		artifactUploader = up
		slog.Info("artifact bucket configured", "endpoint", cfg.Bucket.EndpointURL, "bucket", cfg.Bucket.Name)
	}

	fetchPolicy := worker.Policy{
		MaxAttempts:     cfg.Worker.FetchAttempts,
		InitialInterval: time.Duration(cfg.Worker.BackoffInitialMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Worker.BackoffMaxMS) * time.Millisecond,
	}
	submitPolicy := worker.Policy{
		MaxAttempts:     cfg.Worker.SubmitAttempts,
		InitialInterval: time.Duration(cfg.Worker.BackoffInitialMS) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Worker.BackoffMaxMS) * time.Millisecond,
	}

	collector := worker.NewCollector(engine, artifactUploader, fetchPolicy)
	orchestrator := worker.New(engine, collector, worker.Options{
		WaitTimeout:   cfg.WaitTimeoutDuration(),
		SubmitPolicy:  submitPolicy,
		AllowPartial:  cfg.Worker.AllowPartialOutput,
		RefreshWorker: cfg.Worker.RefreshWorker,
		OutputPath:    cfg.Comfy.OutputPath,
	})

	handler := func(ctx context.Context, job *runpod.Job) any {
		if len(job.Input) == 0 {
			return &worker.JobResponse{
				ID:     job.ID,
				Status: worker.StatusFailed,
				Error: &worker.JobError{
					Kind:    worker.KindInvalidRequest,
					Message: "please provide input",
				},
			}
		}
		var req worker.JobRequest
		if err := json.Unmarshal(job.Input, &req); err != nil {
			return &worker.JobResponse{
				ID:     job.ID,
				Status: worker.StatusFailed,
				Error: &worker.JobError{
					Kind:    worker.KindInvalidRequest,
					Message: "invalid JSON format in input",
				},
			}
		}
		req.ID = job.ID
		return orchestrator.Run(ctx, &req)
	}

	return handler, engine, nil
}
