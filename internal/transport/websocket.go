package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/chatsync/chatsync/internal/chat"
)

// WebsocketDialer dials the chat server's websocket endpoint with the
// credential as a bearer token.
type WebsocketDialer struct {
	// URL is the websocket endpoint, e.g. ws://localhost:5000/ws.
	URL string
	// HTTPClient is used for the upgrade request. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Dial opens the connection and completes the application handshake: the
// first frame from the server must be a connected ack. An error_message
// frame instead, or an HTTP 401/403 on upgrade, means the credential was
// rejected and surfaces as chat.ErrAuthFailed.
func (d *WebsocketDialer) Dial(ctx context.Context, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	c, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		HTTPHeader: header,
		HTTPClient: d.HTTPClient,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, chat.ErrAuthFailed
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	conn := &wsConn{c: c}

	ack, err := conn.Receive(ctx)
	if err != nil {
		conn.Close("handshake failed")
		return nil, fmt.Errorf("waiting for handshake ack: %w", err)
	}

	switch ack.Name {
	case chat.EventConnected:
		return conn, nil
	case chat.EventError:
		var info chat.ErrorInfo
		if err := json.Unmarshal(ack.Data, &info); err == nil && isAuthMessage(info.Message) {
			conn.Close("authentication rejected")
			return nil, chat.ErrAuthFailed
		}
		conn.Close("handshake rejected")
		return nil, fmt.Errorf("handshake rejected: %s", info.Message)
	default:
		conn.Close("unexpected handshake frame")
		return nil, fmt.Errorf("unexpected handshake event %q", ack.Name)
	}
}

// isAuthMessage mirrors the error sniffing the server side does not make
// structured: any mention of authentication in the rejection is fatal.
func isAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "auth") ||
		strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid token")
}

// wsConn wraps a coder/websocket connection with the JSON envelope codec.
type wsConn struct {
	c *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (w *wsConn) Send(ctx context.Context, ev chat.Event) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return chat.ErrConnClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %q: %w", ev.Name, err)
	}
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write event %q: %w", ev.Name, err)
	}
	return nil
}

func (w *wsConn) Receive(ctx context.Context) (chat.Event, error) {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return chat.Event{}, chat.ErrConnClosed
	}

	_, data, err := w.c.Read(ctx)
	if err != nil {
		return chat.Event{}, err
	}

	var ev chat.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		// A malformed frame is logged and skipped rather than tearing the
		// connection down; the next frame may be fine.
		slog.Warn("Dropping malformed transport frame", "error", err)
		return w.Receive(ctx)
	}
	return ev, nil
}

func (w *wsConn) Close(reason string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	return w.c.Close(websocket.StatusNormalClosure, reason)
}

// Transient reports whether a connection loss should be retried. Normal
// closes initiated by either side are not transient; everything else
// (timeouts, abnormal closure, broken transport) is.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, chat.ErrConnClosed) {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return false
	}
	return true
}
