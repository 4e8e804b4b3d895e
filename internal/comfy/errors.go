package comfy

import "errors"

var (
	// ErrEngineUnreachable indicates a transport-level failure talking to the
	// engine. Safe to retry with backoff.
	ErrEngineUnreachable = errors.New("engine unreachable")

	// ErrEngineRejected indicates the engine refused the submission with a
	// structural or validation error. Never retried.
	ErrEngineRejected = errors.New("engine rejected prompt")

	// ErrEngineTimeout indicates no terminal event arrived within the wait
	// window. The underlying job may still complete later; the wait is
	// abandoned, not cancelled.
	ErrEngineTimeout = errors.New("timed out waiting for completion")

	// ErrOutputMissing indicates the engine reported a declared output as not
	// found. This can race with storage visibility right after completion.
	ErrOutputMissing = errors.New("output not found on engine")
)
