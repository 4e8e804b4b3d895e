package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/comfy"
)

// Collector turns a completion event's declared outputs into transport-safe
// artifacts, in declared order. One output failing after retries fails the
// whole collection with a PartialOutputError; the orchestrator decides
// whether partial results are acceptable.
type Collector struct {
	engine   EngineClient
	uploader ArtifactUploader // nil means inline base64
	policy   Policy
}

func NewCollector(engine EngineClient, uploader ArtifactUploader, policy Policy) *Collector {
	return &Collector{engine: engine, uploader: uploader, policy: policy}
}

// Collect fetches and encodes every output the event declares. On failure it
// returns the artifacts gathered so far alongside the error.
func (c *Collector) Collect(ctx context.Context, jobID string, ev *comfy.CompletionEvent) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(ev.Outputs))

	for i, ref := range ev.Outputs {
		var data []byte
		fetch := func() error {
			var err error
			data, err = c.engine.FetchOutput(ctx, ref)
			return err
		}
		err := c.policy.Do(ctx, fetch, transientFetch)
		if err != nil {
			perr := &PartialOutputError{
				Succeeded:   refsOf(ev.Outputs[:i]),
				Failed:      []FailedOutput{{Ref: ref, Reason: err.Error()}},
				Unattempted: refsOf(ev.Outputs[i+1:]),
			}
			return artifacts, perr
		}

		artifact, err := c.encode(ctx, jobID, ref, data)
		if err != nil {
			perr := &PartialOutputError{
				Succeeded:   refsOf(ev.Outputs[:i]),
				Failed:      []FailedOutput{{Ref: ref, Reason: err.Error()}},
				Unattempted: refsOf(ev.Outputs[i+1:]),
			}
			return artifacts, perr
		}
		artifacts = append(artifacts, artifact)
		slog.Debug("collected output", "job_id", jobID, "node", ref.NodeID, "filename", ref.Filename, "bytes", len(data))
	}

	return artifacts, nil
}

func (c *Collector) encode(ctx context.Context, jobID string, ref comfy.OutputRef, data []byte) (Artifact, error) {
	artifact := Artifact{
		NodeID:      ref.NodeID,
		Filename:    ref.Filename,
		ContentType: ContentTypeFor(ref.Filename),
	}

	if c.uploader != nil {
		url, err := c.uploader.Upload(ctx, jobID, ref.Filename, artifact.ContentType, data)
		if err != nil {
			return Artifact{}, err
		}
		artifact.URL = url
		return artifact, nil
	}

	artifact.Data = base64.StdEncoding.EncodeToString(data)
	return artifact, nil
}

// transientFetch reports whether a fetch error is worth retrying: storage
// visibility races and connectivity blips, nothing else.
func transientFetch(err error) bool {
	return errors.Is(err, comfy.ErrOutputMissing) || errors.Is(err, comfy.ErrEngineUnreachable)
}

func refsOf(outputs []comfy.OutputRef) []comfy.OutputRef {
	if len(outputs) == 0 {
		return nil
	}
	refs := make([]comfy.OutputRef, len(outputs))
	copy(refs, outputs)
	return refs
}

// ContentTypeFor maps an output filename onto a declared mime type.
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
