// Package credentials provides read access to the client credential. The
// token is owned by an external part of the application (or another
// process entirely); the connection manager polls the source on a fixed
// interval to detect set/changed/cleared tokens.
package credentials

import "context"

// Source yields the current credential. An empty token with a nil error
// means "no credential available" and drives a disconnect; it is not an
// error condition.
type Source interface {
	Token() (string, error)
}

// Static is a fixed-token source, useful for tests and short-lived tools.
type Static string

func (s Static) Token() (string, error) { return string(s), nil }

// Watcher is an optional capability of a Source: it signals that the
// backing store may have changed so the poll loop can run early. The poll
// remains the mechanism of record; missing a notification only delays
// detection until the next tick.
type Watcher interface {
	Watch(ctx context.Context, notify func()) error
}
