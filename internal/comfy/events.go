package comfy

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// pendingRun accumulates engine events for one in-flight prompt until its
// terminal event is built and delivered.
type pendingRun struct {
	ch            chan *CompletionEvent
	outputs       []OutputRef
	nodesExecuted int
	startedAt     time.Time
	done          bool
}

// waiterRegistry demultiplexes completion events by prompt ID. Concurrent
// submissions on one connection each get a dedicated channel, so a waiter can
// never consume another waiter's terminal event.
type waiterRegistry struct {
	mu   sync.Mutex
	runs map[string]*pendingRun
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{runs: make(map[string]*pendingRun)}
}

// track registers a prompt ID and returns its run, creating it if needed.
func (r *waiterRegistry) track(promptID string) *pendingRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[promptID]
	if !ok {
		run = &pendingRun{ch: make(chan *CompletionEvent, 1)}
		r.runs[promptID] = run
	}
	return run
}

func (r *waiterRegistry) lookup(promptID string) (*pendingRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[promptID]
	return run, ok
}

func (r *waiterRegistry) drop(promptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, promptID)
}

// complete builds and delivers the terminal event for promptID. Events for
// untracked prompt IDs are ignored, and only the first terminal event per
// prompt is delivered.
func (r *waiterRegistry) complete(promptID string, success bool, execErr *ExecutionError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[promptID]
	if !ok || run.done {
		return
	}
	run.done = true

	ev := &CompletionEvent{
		PromptID:      promptID,
		Success:       success,
		Outputs:       run.outputs,
		NodesExecuted: run.nodesExecuted,
		Err:           execErr,
	}
	if !run.startedAt.IsZero() {
		ev.Duration = time.Since(run.startedAt)
	}
	// ch is buffered; the waiter may not be blocked on it yet
	run.ch <- ev
}

// awaitEvent blocks until the terminal event for promptID arrives on its
// registered channel, timeout elapses, or ctx is cancelled. On timeout the
// wait is abandoned; the engine-side job is not cancelled.
func (c *Client) awaitEvent(ctx context.Context, promptID string, timeout time.Duration) (*CompletionEvent, error) {
	run := c.reg.track(promptID)
	defer c.reg.drop(promptID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-run.ch:
		return ev, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s (prompt %s)", ErrEngineTimeout, timeout, promptID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// awaitByPolling recovers completion by polling GET /history/{id}, for use
// when the notification channel is not connected. The wait ends on timeout or
// when the poll budget runs out, whichever comes first.
func (c *Client) awaitByPolling(ctx context.Context, promptID string, timeout time.Duration) (*CompletionEvent, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for polls := 0; ; {
		entry, err := c.getHistory(ctx, promptID)
		if err == nil && entry != nil && entry.terminal() {
			return entry.toCompletionEvent(promptID), nil
		}

		polls++
		if c.pollBudget > 0 && polls >= c.pollBudget {
			return nil, fmt.Errorf("%w after %d polls (prompt %s)", ErrEngineTimeout, polls, promptID)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s (prompt %s)", ErrEngineTimeout, timeout, promptID)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
