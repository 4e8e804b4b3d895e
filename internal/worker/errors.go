package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boreddaoist/runpod-worker-comfy-Boring/internal/comfy"
)

// ErrorKind classifies a job failure for the caller.
type ErrorKind string

const (
	// KindInvalidRequest is a caller error; never retried, no engine call made.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindUploadFailed means one or more inline input assets could not be
	// staged on the engine.
	KindUploadFailed ErrorKind = "upload_failed"
	KindEngineUnreachable ErrorKind = "engine_unreachable"
	KindEngineRejected    ErrorKind = "engine_rejected"
	KindEngineTimeout     ErrorKind = "engine_timeout"
	// KindEngineFailure forwards the engine's own diagnostic text verbatim.
	KindEngineFailure ErrorKind = "engine_reported_failure"
	KindOutputMissing ErrorKind = "output_missing"
	KindPartialOutput ErrorKind = "partial_output_failure"
	KindCancelled     ErrorKind = "cancelled"
	// KindInternal covers errors that fit no other kind; callers must not
	// treat it as transient.
	KindInternal ErrorKind = "internal_error"
)

// JobError is the structured failure payload of a JobResponse. The bridge
// never lets a raw transport error escape to the caller.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Detail  any       `json:"detail,omitempty"`
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func jobError(kind ErrorKind, format string, args ...any) *JobError {
	return &JobError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// classify maps engine-boundary errors onto the response taxonomy.
func classify(err error) *JobError {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &JobError{Kind: KindCancelled, Message: err.Error()}
	case errors.Is(err, comfy.ErrEngineTimeout):
		return &JobError{Kind: KindEngineTimeout, Message: err.Error()}
	case errors.Is(err, comfy.ErrEngineRejected):
		return &JobError{Kind: KindEngineRejected, Message: err.Error()}
	case errors.Is(err, comfy.ErrOutputMissing):
		return &JobError{Kind: KindOutputMissing, Message: err.Error()}
	case errors.Is(err, comfy.ErrEngineUnreachable):
		return &JobError{Kind: KindEngineUnreachable, Message: err.Error()}
	default:
		return &JobError{Kind: KindInternal, Message: err.Error()}
	}
}

// FailedOutput records one output that could not be retrieved and why.
type FailedOutput struct {
	Ref    comfy.OutputRef `json:"ref"`
	Reason string          `json:"reason"`
}

// PartialOutputError reports a collection that stopped partway: which
// references were already fetched, which one failed after retries, and which
// were never attempted.
type PartialOutputError struct {
	Succeeded   []comfy.OutputRef `json:"succeeded"`
	Failed      []FailedOutput    `json:"failed"`
	Unattempted []comfy.OutputRef `json:"unattempted"`
}

func (e *PartialOutputError) Error() string {
	reasons := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		reasons[i] = fmt.Sprintf("%s/%s: %s", f.Ref.NodeID, f.Ref.Filename, f.Reason)
	}
	return fmt.Sprintf("collected %d of %d outputs (%s)",
		len(e.Succeeded), len(e.Succeeded)+len(e.Failed)+len(e.Unattempted),
		strings.Join(reasons, "; "))
}
