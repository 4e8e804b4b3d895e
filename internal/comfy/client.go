package comfy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Callbacks are optional hooks into the engine's progress stream. All fields
// may be nil.
type Callbacks struct {
	OnQueueCount func(remaining int)
	OnExecuting  func(promptID, nodeID string)
	OnProgress   func(promptID string, value, max int)
}

// Client is a session-scoped wrapper around one ComfyUI instance's queue,
// notification and file APIs. Each Client gets its own session ID so
// completion events from concurrent sessions sharing the engine are never
// delivered to the wrong waiter.
type Client struct {
	baseAddress  string
	sessionID    string
	httpc        *http.Client
	ws           *wsConnection
	reg          *waiterRegistry
	callbacks    *Callbacks
	pollInterval time.Duration
	pollBudget   int
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

func WithSessionID(id string) Option {
	return func(c *Client) { c.sessionID = id }
}

func WithCallbacks(cb *Callbacks) Option {
	return func(c *Client) { c.callbacks = cb }
}

// WithPollInterval sets the history polling cadence used when the
// notification channel is unavailable.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithPollBudget caps the number of history polls per completion wait.
// Zero means the wait is bounded by its timeout alone.
func WithPollBudget(n int) Option {
	return func(c *Client) { c.pollBudget = n }
}

// New creates a client for the engine at host ("127.0.0.1:8188").
func New(host string, opts ...Option) *Client {
	c := &Client{
		baseAddress:  host,
		sessionID:    uuid.New().String(),
		httpc:        &http.Client{},
		reg:          newWaiterRegistry(),
		pollInterval: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SessionID returns the identifier tagged onto submissions to scope
// completion notifications to this client.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Connect opens the notification channel. Without it the client still works,
// falling back to history polling for completion.
func (c *Client) Connect(ctx context.Context) error {
	url := fmt.Sprintf("ws://%s/ws?clientId=%s", c.baseAddress, c.sessionID)
	c.ws = newWSConnection(url, c.handleMessage)
	if err := c.ws.Connect(ctx, 30*time.Second); err != nil {
		c.ws = nil
		return fmt.Errorf("%w: %v", ErrEngineUnreachable, err)
	}
	slog.Info("connected to engine notification channel", "session_id", c.sessionID)
	return nil
}

func (c *Client) Close() {
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
}

// WaitForReady polls the engine's root endpoint until it answers 200,
// bounded by attempts * interval. Provisioning (models, custom nodes) is
// expected to have finished before the first job is ever dispatched; this
// only covers engine process startup.
func (c *Client) WaitForReady(ctx context.Context, attempts int, interval time.Duration) error {
	url := fmt.Sprintf("http://%s/", c.baseAddress)
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := c.httpc.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				slog.Info("engine API is reachable", "host", c.baseAddress)
				return nil
			}
		}
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: engine at %s not ready after %d attempts", ErrEngineUnreachable, c.baseAddress, attempts)
}

// AwaitCompletion blocks until the terminal event for promptID arrives,
// timeout elapses (ErrEngineTimeout), or ctx is cancelled. Events for
// unrelated prompts on the same channel are never consumed destructively.
func (c *Client) AwaitCompletion(ctx context.Context, promptID string, timeout time.Duration) (*CompletionEvent, error) {
	if c.ws != nil && c.ws.Connected() {
		return c.awaitEvent(ctx, promptID, timeout)
	}
	return c.awaitByPolling(ctx, promptID, timeout)
}

// handleMessage translates each raw notification into registry state. Runs on
// the websocket read goroutine.
func (c *Client) handleMessage(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		slog.Error("deserializing status message", "error", err)
		return
	}

	switch data := msg.Data.(type) {
	case *statusData:
		if c.callbacks != nil && c.callbacks.OnQueueCount != nil {
			c.callbacks.OnQueueCount(data.Status.ExecInfo.QueueRemaining)
		}
	case *executionStartData:
		if run, ok := c.reg.lookup(data.PromptID); ok {
			run.startedAt = time.Now()
		}
	case *executingData:
		if data.Node == nil {
			// final node was processed; terminal on engines that predate
			// execution_success
			c.reg.complete(data.PromptID, true, nil)
			return
		}
		if run, ok := c.reg.lookup(data.PromptID); ok {
			run.nodesExecuted++
		}
		if c.callbacks != nil && c.callbacks.OnExecuting != nil {
			c.callbacks.OnExecuting(data.PromptID, *data.Node)
		}
	case *progressData:
		if c.callbacks != nil && c.callbacks.OnProgress != nil {
			c.callbacks.OnProgress(data.PromptID, data.Value, data.Max)
		}
	case *executedData:
		if run, ok := c.reg.lookup(data.PromptID); ok {
			run.outputs = append(run.outputs, data.Outputs...)
		}
	case *executionSuccessData:
		c.reg.complete(data.PromptID, true, nil)
	case *executionInterruptedData:
		c.reg.complete(data.PromptID, false, &ExecutionError{
			NodeID:           data.NodeID,
			NodeType:         data.NodeType,
			ExceptionType:    "interrupted",
			ExceptionMessage: "execution interrupted",
		})
	case *executionErrorData:
		c.reg.complete(data.PromptID, false, &ExecutionError{
			NodeID:           data.NodeID,
			NodeType:         data.NodeType,
			ExceptionType:    data.ExceptionType,
			ExceptionMessage: data.ExceptionMessage,
			Traceback:        data.Traceback,
		})
	case *executionCachedData:
		// nothing to do; cached nodes never produce executed messages
	case nil:
		slog.Debug("unhandled message type", "type", msg.Type)
	}
}
