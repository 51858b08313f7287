package homeassistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// StateWatch keeps a WebSocket subscription to Home Assistant's
// state_changed events and invalidates the REST client's snapshot
// cache whenever an entity changes, so cached reads never serve data
// older than the last known change.
//
// The watch is best-effort: if the socket cannot be established the
// client degrades to TTL-only caching. Reconnects use a doubling
// backoff capped at one minute.
type StateWatch struct {
	baseURL string
	token   string
	client  *Client
	logger  *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// wsMessage is the generic Home Assistant WebSocket message format.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Event   json.RawMessage `json:"event,omitempty"`
}

// NewStateWatch creates a watcher bound to the given REST client.
func NewStateWatch(baseURL, token string, client *Client, logger *slog.Logger) *StateWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateWatch{
		baseURL: baseURL,
		token:   token,
		client:  client,
		logger:  logger,
	}
}

// Start launches the watch loop. Safe to call once; subsequent calls
// are no-ops until Stop.
func (w *StateWatch) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.run(ctx)
}

// Stop terminates the watch loop and waits for it to exit.
func (w *StateWatch) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
}

func (w *StateWatch) run(ctx context.Context) {
	defer close(w.done)

	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		err := w.watch(ctx)
		if ctx.Err() != nil {
			return
		}
		w.logger.Warn("state watch disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// watch dials, authenticates, subscribes, and pumps events until the
// connection drops or ctx is cancelled.
func (w *StateWatch) watch(ctx context.Context) error {
	conn, err := w.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]any{
		"id":         1,
		"type":       "subscribe_events",
		"event_type": "state_changed",
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	w.logger.Info("state watch connected", "url", w.baseURL)

	// Close the socket when ctx is cancelled so ReadJSON unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch msg.Type {
		case "result":
			if !msg.Success {
				return fmt.Errorf("subscription rejected")
			}
		case "event":
			w.client.InvalidateCache()
		}
	}
}

// connect dials the websocket endpoint and performs the auth handshake.
func (w *StateWatch) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"

	dialer := websocket.Dialer{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 16 * 1024,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	var authReq wsMessage
	if err := conn.ReadJSON(&authReq); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth_required: %w", err)
	}
	if authReq.Type != "auth_required" {
		conn.Close()
		return nil, fmt.Errorf("expected auth_required, got %s", authReq.Type)
	}

	authMsg := map[string]string{
		"type":         "auth",
		"access_token": w.token,
	}
	if err := conn.WriteJSON(authMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send auth: %w", err)
	}

	var authResp wsMessage
	if err := conn.ReadJSON(&authResp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read auth response: %w", err)
	}
	switch authResp.Type {
	case "auth_ok":
		return conn, nil
	case "auth_invalid":
		conn.Close()
		return nil, fmt.Errorf("authentication failed")
	default:
		conn.Close()
		return nil, fmt.Errorf("unexpected auth response: %s", authResp.Type)
	}
}
