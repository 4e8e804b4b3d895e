package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
)

/*
Engine endpoints used by this client:

	POST /prompt
	GET  /history/{prompt_id}
	GET  /view
	POST /upload/image
	GET  /
*/

type promptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

// Submit posts an API-format workflow to the engine's queue, tagged with this
// client's session ID, and returns the submission's prompt ID. The workflow
// document is treated as opaque; the engine validates it.
func (c *Client) Submit(ctx context.Context, workflow json.RawMessage) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: workflow, ClientID: c.sessionID})
	if err != nil {
		return "", fmt.Errorf("encoding prompt request: %w", err)
	}

	// pause notification dispatch so the first events for the new prompt
	// cannot arrive before its waiter is registered
	if c.ws != nil {
		c.ws.pauseDispatch()
		defer c.ws.resumeDispatch()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/prompt", c.baseAddress), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading queue response: %v", ErrEngineUnreachable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", engineRejection(data, resp.StatusCode)
	}

	var queued queueResponse
	if err := json.Unmarshal(data, &queued); err != nil || queued.PromptID == "" {
		return "", engineRejection(data, resp.StatusCode)
	}

	c.reg.track(queued.PromptID)
	slog.Info("queued workflow", "prompt_id", queued.PromptID, "number", queued.Number)
	return queued.PromptID, nil
}

// engineRejection extracts the engine's own error detail from a failed queue
// response so it can be surfaced verbatim.
func engineRejection(body []byte, status int) error {
	var perr PromptErrorMessage
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error.Message != "" {
		if perr.Error.Details != "" {
			return fmt.Errorf("%w: %s: %s", ErrEngineRejected, perr.Error.Message, perr.Error.Details)
		}
		return fmt.Errorf("%w: %s", ErrEngineRejected, perr.Error.Message)
	}
	return fmt.Errorf("%w: status %d: %s", ErrEngineRejected, status, bytes.TrimSpace(body))
}

// historyEntry is the per-prompt record under GET /history/{id}.
type historyEntry struct {
	Outputs map[string]map[string][]json.RawMessage `json:"outputs"`
	Status  struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
}

func (h *historyEntry) terminal() bool {
	return h.Status.Completed || len(h.Outputs) > 0
}

func (h *historyEntry) toCompletionEvent(promptID string) *CompletionEvent {
	ev := &CompletionEvent{
		PromptID: promptID,
		Success:  h.Status.StatusStr != "error",
	}
	if !ev.Success {
		ev.Err = &ExecutionError{
			ExceptionType:    "history",
			ExceptionMessage: fmt.Sprintf("engine history reports status %q for prompt %s", h.Status.StatusStr, promptID),
		}
		return ev
	}

	// history keys outputs by node ID; order them for deterministic collection
	nodeIDs := make([]string, 0, len(h.Outputs))
	for nodeID := range h.Outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	for _, nodeID := range nodeIDs {
		for _, entries := range h.Outputs[nodeID] {
			for _, raw := range entries {
				var file struct {
					Filename  string `json:"filename"`
					Subfolder string `json:"subfolder"`
					Type      string `json:"type"`
				}
				if err := json.Unmarshal(raw, &file); err != nil || file.Filename == "" {
					continue
				}
				ev.Outputs = append(ev.Outputs, OutputRef{
					NodeID:    nodeID,
					Filename:  file.Filename,
					Subfolder: file.Subfolder,
					Type:      file.Type,
				})
			}
		}
	}
	ev.NodesExecuted = len(nodeIDs)
	return ev
}

// getHistory returns the history record for one prompt, or nil if the engine
// has no record of it yet.
func (c *Client) getHistory(ctx context.Context, promptID string) (*historyEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/history/%s", c.baseAddress, promptID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading history: %v", ErrEngineUnreachable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: status %d", resp.StatusCode)
	}

	history := make(map[string]*historyEntry)
	if err := json.Unmarshal(body, &history); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}
	return history[promptID], nil
}

// FetchOutput retrieves the raw bytes for one output reference from the
// engine's file endpoint. A race between the completion event and storage
// visibility can surface as ErrOutputMissing; callers retry with backoff.
func (c *Client) FetchOutput(ctx context.Context, ref OutputRef) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", ref.Filename)
	params.Add("subfolder", ref.Subfolder)
	params.Add("type", ref.Type)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/view?%s", c.baseAddress, params.Encode()), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s (node %s)", ErrOutputMissing, ref.Filename, ref.NodeID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("view request for %s failed: status %d", ref.Filename, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// UploadImage stores an inline input asset on the engine so workflow nodes
// can reference it by name. Returns the name the engine actually chose, which
// may differ from the requested one when overwrite is false.
func (c *Client) UploadImage(ctx context.Context, filename string, data []byte, overwrite bool) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	formFile, err := writer.CreateFormFile("image", filename)
	if err != nil {
		return "", err
	}
	if _, err := formFile.Write(data); err != nil {
		return "", err
	}
	_ = writer.WriteField("overwrite", fmt.Sprintf("%v", overwrite))
	_ = writer.WriteField("type", "input")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/upload/image", c.baseAddress), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("uploading %s: status %d: %s", filename, resp.StatusCode, bytes.TrimSpace(detail))
	}

	var uploaded struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return "", fmt.Errorf("decoding upload response for %s: %w", filename, err)
	}
	if uploaded.Name == "" {
		return "", fmt.Errorf("upload response for %s missing name", filename)
	}
	return uploaded.Name, nil
}
