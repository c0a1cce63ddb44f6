package chat

import "errors"

// Sentinel errors for the synchronization engine. These provide consistent,
// checkable errors for the failure modes a consumer is expected to handle.
var (
	// ErrAuthFailed means the transport handshake was rejected for the
	// current credential. It is fatal: the manager will not retry with the
	// same token.
	ErrAuthFailed = errors.New("transport handshake rejected: authentication failed")

	// ErrNotConnected means an operation required a Connected transport.
	ErrNotConnected = errors.New("not connected")

	// ErrNoRoom means an operation required a joined room.
	ErrNoRoom = errors.New("no room selected")

	// ErrEmptyMessage means a send was attempted with blank text.
	ErrEmptyMessage = errors.New("message text is empty")

	// ErrUnknownSender means the session has no local sender identity.
	ErrUnknownSender = errors.New("sender is unknown")

	// ErrConnClosed is returned by a transport connection after Close.
	ErrConnClosed = errors.New("connection closed")
)
