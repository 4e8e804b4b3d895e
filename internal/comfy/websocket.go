package comfy

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// wsConnection owns the engine's push notification channel. Read dispatch is
// serialized behind mu so a submitter can pause the reader while it registers
// a waiter for a freshly returned prompt ID.
type wsConnection struct {
	url       string
	dialer    websocket.Dialer
	onMessage func([]byte)

	conn      *websocket.Conn
	connected atomic.Bool
	done      chan struct{}

	mu sync.Mutex
}

func newWSConnection(url string, onMessage func([]byte)) *wsConnection {
	return &wsConnection{
		url:       url,
		dialer:    websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		onMessage: onMessage,
		done:      make(chan struct{}),
	}
}

// Connect dials the engine with exponential backoff until it succeeds, the
// backoff schedule is exhausted, or ctx is cancelled. On success the read
// loop runs until the connection drops or Close is called.
func (w *wsConnection) Connect(ctx context.Context, maxElapsed time.Duration) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = maxElapsed

	dial := func() error {
		conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
		if err != nil {
			slog.Warn("websocket dial failed", "url", w.url, "error", err)
			return err
		}
		w.conn = conn
		return nil
	}
	if err := backoff.Retry(dial, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	w.connected.Store(true)
	go w.readLoop()
	return nil
}

func (w *wsConnection) Connected() bool {
	return w.connected.Load()
}

func (w *wsConnection) readLoop() {
	defer func() {
		w.connected.Store(false)
		w.conn.Close()
	}()
	for {
		_, message, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
			default:
				slog.Warn("websocket read error", "error", err)
			}
			return
		}
		w.mu.Lock()
		w.onMessage(message)
		w.mu.Unlock()
	}
}

// pauseDispatch blocks message dispatch until resumeDispatch is called.
// Used to close the window between submitting a prompt and registering its
// waiter, so the first events for the new prompt cannot be dropped.
func (w *wsConnection) pauseDispatch()  { w.mu.Lock() }
func (w *wsConnection) resumeDispatch() { w.mu.Unlock() }

func (w *wsConnection) Close() {
	close(w.done)
	w.connected.Store(false)
	if w.conn != nil {
		w.conn.Close()
	}
}
