// Package transport defines the live transport contract the connection
// manager drives, plus its websocket implementation. The credential travels
// in the dial handshake; a connection is not usable until the server's
// connected ack has been observed.
package transport

import (
	"context"

	"github.com/chatsync/chatsync/internal/chat"
)

// Conn is one live bidirectional connection to the chat server.
// Receive returns events in the order the server delivered them; after
// Close (or a transport failure) it returns a non-nil error forever.
type Conn interface {
	Send(ctx context.Context, ev chat.Event) error
	Receive(ctx context.Context) (chat.Event, error)
	Close(reason string) error
}

// Dialer opens connections. Dial blocks until the server acknowledged the
// handshake or the context is cancelled. A rejected credential surfaces as
// chat.ErrAuthFailed, which the manager treats as fatal for that token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Conn, error)
}
