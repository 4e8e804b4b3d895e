package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/comfy"
)

// Options configures one Orchestrator. Zero values get sensible defaults in
// New.
type Options struct {
	// WaitTimeout bounds the completion wait unless the request overrides it.
	WaitTimeout time.Duration
	// SubmitPolicy retries transient connectivity errors during submission.
	SubmitPolicy Policy
	// AllowPartial returns the succeeded subset on partial collection failure
	// instead of failing the job. Default off: callers expect a complete set.
	AllowPartial bool
	// RefreshWorker is echoed in every response so the hosting runtime can
	// recycle the container after the job.
	RefreshWorker bool
	// OutputPath, when set, is cleaned of files after each job.
	OutputPath string
}

// Orchestrator owns the lifecycle of one job request from receipt to
// response: Received -> Validated -> Submitted -> AwaitingCompletion ->
// Collecting -> Completed | Failed. It holds no state across jobs.
type Orchestrator struct {
	engine    EngineClient
	collector *Collector
	opts      Options
}

func New(engine EngineClient, collector *Collector, opts Options) *Orchestrator {
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}
	if opts.SubmitPolicy.MaxAttempts == 0 {
		opts.SubmitPolicy = DefaultPolicy()
	}
	return &Orchestrator{engine: engine, collector: collector, opts: opts}
}

// Run executes one job. It always returns exactly one response; every error
// is converted into a structured failure payload.
func (o *Orchestrator) Run(ctx context.Context, req *JobRequest) *JobResponse {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	log := slog.With("job_id", req.ID)

	if jerr := validate(req); jerr != nil {
		log.Warn("rejected invalid request", "error", jerr.Message)
		return o.fail(req.ID, jerr)
	}

	if jerr := o.uploadInputs(ctx, req, log); jerr != nil {
		return o.fail(req.ID, jerr)
	}

	promptID, jerr := o.submit(ctx, req, log)
	if jerr != nil {
		return o.fail(req.ID, jerr)
	}

	timeout := o.opts.WaitTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}

	log.Info("awaiting completion", "prompt_id", promptID, "timeout", timeout)
	ev, err := o.engine.AwaitCompletion(ctx, promptID, timeout)
	if err != nil {
		log.Error("completion wait failed", "prompt_id", promptID, "error", err)
		return o.fail(req.ID, classify(err))
	}

	if !ev.Success {
		// forward the engine's diagnostic text unmodified
		message := "engine reported failure"
		if ev.Err != nil {
			message = ev.Err.ExceptionMessage
		}
		log.Error("engine reported failure", "prompt_id", promptID, "message", message)
		return o.fail(req.ID, &JobError{Kind: KindEngineFailure, Message: message, Detail: ev.Err})
	}

	artifacts, cerr := o.collector.Collect(ctx, req.ID, ev)
	o.cleanupOutputs(log)

	if cerr != nil {
		var perr *PartialOutputError
		if errors.As(cerr, &perr) && o.opts.AllowPartial && len(artifacts) > 0 {
			log.Warn("returning partial results", "collected", len(artifacts), "error", cerr)
			resp := o.succeed(req.ID, ev, artifacts)
			resp.Error = &JobError{Kind: KindPartialOutput, Message: cerr.Error(), Detail: perr}
			return resp
		}
		log.Error("output collection failed", "prompt_id", promptID, "error", cerr)
		if perr != nil {
			return o.fail(req.ID, &JobError{Kind: KindPartialOutput, Message: cerr.Error(), Detail: perr})
		}
		return o.fail(req.ID, classify(cerr))
	}

	log.Info("job completed",
		"prompt_id", promptID,
		"artifacts", len(artifacts),
		"nodes_executed", ev.NodesExecuted,
		"duration", ev.Duration,
	)
	return o.succeed(req.ID, ev, artifacts)
}

// uploadInputs stages inline assets on the engine before submission.
func (o *Orchestrator) uploadInputs(ctx context.Context, req *JobRequest, log *slog.Logger) *JobError {
	if len(req.Images) == 0 {
		return nil
	}

	var uploadErrors []string
	for _, img := range req.Images {
		blob, err := base64.StdEncoding.DecodeString(img.Image)
		if err != nil {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: invalid base64: %v", img.Name, err))
			continue
		}
		if _, err := o.engine.UploadImage(ctx, img.Name, blob, true); err != nil {
			uploadErrors = append(uploadErrors, fmt.Sprintf("%s: %v", img.Name, err))
		}
	}

	if len(uploadErrors) > 0 {
		log.Error("image upload completed with errors", "failed", len(uploadErrors))
		return &JobError{
			Kind:    KindUploadFailed,
			Message: fmt.Sprintf("%d of %d input images failed to upload", len(uploadErrors), len(req.Images)),
			Detail:  uploadErrors,
		}
	}
	log.Info("uploaded input images", "count", len(req.Images))
	return nil
}

// submit queues the workflow, retrying only transient connectivity errors.
// Anything else is terminal: re-submitting a rejected or already-accepted
// workflow could duplicate expensive generation work.
func (o *Orchestrator) submit(ctx context.Context, req *JobRequest, log *slog.Logger) (string, *JobError) {
	var promptID string
	op := func() error {
		var err error
		promptID, err = o.engine.Submit(ctx, req.Workflow)
		return err
	}
	transient := func(err error) bool {
		return errors.Is(err, comfy.ErrEngineUnreachable)
	}
	if err := o.opts.SubmitPolicy.Do(ctx, op, transient); err != nil {
		log.Error("workflow submission failed", "error", err)
		return "", classify(err)
	}
	return promptID, nil
}

func (o *Orchestrator) succeed(id string, ev *comfy.CompletionEvent, artifacts []Artifact) *JobResponse {
	return &JobResponse{
		ID:            id,
		Status:        StatusCompleted,
		Artifacts:     artifacts,
		ProcessingMS:  ev.Duration.Milliseconds(),
		NodesExecuted: ev.NodesExecuted,
		RefreshWorker: o.opts.RefreshWorker,
	}
}

func (o *Orchestrator) fail(id string, jerr *JobError) *JobResponse {
	return &JobResponse{
		ID:            id,
		Status:        StatusFailed,
		RefreshWorker: o.opts.RefreshWorker,
		Error:         jerr,
	}
}

// cleanupOutputs empties the engine's output directory after a job so leaked
// files from this run cannot be picked up by a later one. Best effort only.
func (o *Orchestrator) cleanupOutputs(log *slog.Logger) {
	if o.opts.OutputPath == "" {
		return
	}
	err := filepath.Walk(o.opts.OutputPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		log.Warn("output cleanup error", "path", o.opts.OutputPath, "error", err)
		return
	}
	log.Info("output directory cleaned", "path", o.opts.OutputPath)
}
