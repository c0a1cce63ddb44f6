package connection

// State represents the lifecycle state of the managed connection.
type State int

const (
	// StateDisconnected means no transport exists and no attempt is pending.
	StateDisconnected State = iota

	// StateConnecting means a dial is in flight.
	StateConnecting

	// StateConnected means the transport is live and authenticated.
	StateConnected

	// StateFailed means the last attempt failed and a bounded retry is
	// scheduled. Exhausting the retry budget falls back to StateDisconnected.
	StateFailed
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
