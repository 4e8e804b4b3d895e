package comfy

import "time"

// OutputRef locates one produced artifact inside engine-managed storage.
// It is only valid while the engine process and its output storage are alive.
type OutputRef struct {
	NodeID    string `json:"node_id"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// CompletionEvent is the terminal notification for one submission. At most
// one is delivered per prompt ID.
type CompletionEvent struct {
	PromptID      string
	Success       bool
	Outputs       []OutputRef
	NodesExecuted int
	Duration      time.Duration
	Err           *ExecutionError
}

// ExecutionError carries the engine's own failure diagnostics. The exception
// message is forwarded to callers unmodified.
type ExecutionError struct {
	NodeID           string   `json:"node_id"`
	NodeType         string   `json:"node_type"`
	ExceptionType    string   `json:"exception_type"`
	ExceptionMessage string   `json:"exception_message"`
	Traceback        []string `json:"traceback,omitempty"`
}

type PromptError struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Details   string         `json:"details"`
	ExtraInfo map[string]any `json:"extra_info"`
}

// PromptErrorMessage is the body the engine returns when it rejects a prompt:
//
//	{"error": {"type": "prompt_no_outputs", "message": "Prompt has no outputs", ...}, "node_errors": {}}
type PromptErrorMessage struct {
	Error      PromptError    `json:"error"`
	NodeErrors map[string]any `json:"node_errors"`
}

// queueResponse is the engine's answer to a successful POST /prompt.
type queueResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}
