// Package runpod adapts the hosting serverless runtime's calling convention
// to the job orchestrator: one structured payload in, one structured result
// out, per invocation.
package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// Handler processes one job payload and returns the value to post as its
// output. Handlers must not return raw errors; failures belong inside the
// returned payload.
type Handler func(ctx context.Context, job *Job) any

// Job is one unit of work delivered by the platform.
type Job struct {
	ID    string          `json:"id"`
	Input json.RawMessage `json:"input"`
}

// Worker polls the platform's job-take webhook and posts results to the
// job-done webhook, one job at a time.
type Worker struct {
	httpc        *http.Client
	apiKey       string
	takeURL      string
	doneURL      string
	handler      Handler
	pollInterval time.Duration
}

// NewWorkerFromEnv builds a worker from the platform's standard environment:
// RUNPOD_AI_API_KEY, RUNPOD_WEBHOOK_GET_JOB, RUNPOD_WEBHOOK_POST_OUTPUT and
// RUNPOD_POD_ID ($ID placeholders in the webhook URLs refer to the pod).
func NewWorkerFromEnv(handler Handler) (*Worker, error) {
	apiKey := os.Getenv("RUNPOD_AI_API_KEY")
	takeURL := os.Getenv("RUNPOD_WEBHOOK_GET_JOB")
	doneURL := os.Getenv("RUNPOD_WEBHOOK_POST_OUTPUT")
	podID := os.Getenv("RUNPOD_POD_ID")

	if apiKey == "" || takeURL == "" || doneURL == "" {
		return nil, fmt.Errorf("RUNPOD_AI_API_KEY, RUNPOD_WEBHOOK_GET_JOB and RUNPOD_WEBHOOK_POST_OUTPUT must be set")
	}

	return &Worker{
		httpc:        &http.Client{Timeout: 30 * time.Second},
		apiKey:       apiKey,
		takeURL:      strings.ReplaceAll(takeURL, "$ID", podID),
		doneURL:      strings.ReplaceAll(doneURL, "$ID", podID),
		handler:      handler,
		pollInterval: time.Second,
	}, nil
}

// Run polls for jobs until ctx is cancelled. Cancellation abandons any
// in-flight wait promptly; work already queued on the engine is left to
// finish on its own.
func (w *Worker) Run(ctx context.Context) error {
	slog.Info("serverless worker started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("serverless worker stopping")
			return nil
		default:
		}

		job, err := w.takeJob(ctx)
		if err != nil {
			slog.Warn("job take failed", "error", err)
		}
		if job == nil {
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
			}
			continue
		}

		slog.Info("job received", "job_id", job.ID)
		output := w.handler(ctx, job)
		if err := w.postOutput(ctx, job.ID, output); err != nil {
			slog.Error("posting job output failed", "job_id", job.ID, "error", err)
		}
	}
}

func (w *Worker) takeJob(ctx context.Context) (*Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.takeURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)

	resp, err := w.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("job take: status %d", resp.StatusCode)
	}

	var job Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if job.ID == "" {
		return nil, nil
	}
	return &job, nil
}

func (w *Worker) postOutput(ctx context.Context, jobID string, output any) error {
	body, err := json.Marshal(map[string]any{"output": output})
	if err != nil {
		return err
	}

	url := strings.ReplaceAll(w.doneURL, "$JOB_ID", jobID)
	// a result that fails to post is lost; retry the webhook a few times
	const attempts = 3
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := w.httpc.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = fmt.Errorf("job done: status %d", resp.StatusCode)
		} else {
			lastErr = err
		}

		if attempt == attempts-1 {
			break
		}
		select {
		case <-time.After(time.Duration(attempt+1) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
