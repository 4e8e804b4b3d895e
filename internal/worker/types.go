package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/comfy"
)

// InputImage is an inline input asset, staged on the engine before
// submission so workflow nodes can load it by name.
type InputImage struct {
	Name  string `json:"name"`
	Image string `json:"image"` // base64
}

// JobRequest is one generation job. Workflow is an opaque API-format
// document (node id -> {class_type, inputs}); the bridge checks structural
// presence only, never graph semantics.
type JobRequest struct {
	ID             string          `json:"id,omitempty"`
	Workflow       json.RawMessage `json:"workflow"`
	Images         []InputImage    `json:"images,omitempty"`
	TimeoutSeconds int             `json:"timeout,omitempty"`
}

// Artifact is one encoded output. Data carries base64 bytes unless a bucket
// uploader is configured, in which case URL points at the uploaded object.
type Artifact struct {
	NodeID      string `json:"node_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        string `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// JobResponse is the single, immutable result of one JobRequest.
type JobResponse struct {
	ID            string     `json:"id"`
	Status        string     `json:"status"`
	Artifacts     []Artifact `json:"artifacts,omitempty"`
	ProcessingMS  int64      `json:"processing_ms,omitempty"`
	NodesExecuted int        `json:"nodes_executed,omitempty"`
	RefreshWorker bool       `json:"refresh_worker,omitempty"`
	Error         *JobError  `json:"error,omitempty"`
}

// EngineClient is the slice of the engine API the orchestrator needs.
// *comfy.Client satisfies it; tests substitute fakes.
type EngineClient interface {
	Submit(ctx context.Context, workflow json.RawMessage) (string, error)
	AwaitCompletion(ctx context.Context, promptID string, timeout time.Duration) (*comfy.CompletionEvent, error)
	FetchOutput(ctx context.Context, ref comfy.OutputRef) ([]byte, error)
	UploadImage(ctx context.Context, filename string, data []byte, overwrite bool) (string, error)
}

// ArtifactUploader offloads artifact bytes to external storage, returning a
// URL callers can fetch instead of inline base64.
type ArtifactUploader interface {
	Upload(ctx context.Context, jobID, filename, contentType string, data []byte) (string, error)
}

// validate performs the structural checks of the Received -> Validated
// transition. It makes no engine calls.
func validate(req *JobRequest) *JobError {
	if len(req.Workflow) == 0 {
		return jobError(KindInvalidRequest, "missing 'workflow' parameter")
	}

	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(req.Workflow, &nodes); err != nil {
		return jobError(KindInvalidRequest, "'workflow' must be a JSON object of nodes")
	}
	if len(nodes) == 0 {
		return jobError(KindInvalidRequest, "'workflow' must not be empty")
	}

	for i, img := range req.Images {
		if img.Name == "" || img.Image == "" {
			return jobError(KindInvalidRequest,
				"'images' must be a list of objects with 'name' and 'image' keys (entry %d)", i)
		}
	}
	return nil
}
