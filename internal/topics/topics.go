// Package topics defines the bus topic names the synchronization engine
// publishes on. The connection manager is the only publisher; every other
// component subscribes to the subset it cares about.
package topics

const (
	// ConnState carries connection state transitions as {"state": "..."}.
	ConnState = "conn.state"

	// ConnDown is published on every transport teardown. Subscribers must
	// clear derived state: the presence tracker drops its online set and
	// typing timers, the room session falls back to Idle.
	ConnDown = "conn.down"

	// MessageReceived carries a live pushed chat message for the joined room.
	MessageReceived = "chat.message.received"

	// TypingChanged carries a {roomId, senderId, isTyping} typing signal.
	TypingChanged = "chat.typing.changed"

	// PresenceDelta carries a single {userId, isOnline} change.
	PresenceDelta = "presence.delta"

	// PresenceSnapshot carries a full {onlineUsers} list that replaces the
	// tracked set wholesale.
	PresenceSnapshot = "presence.snapshot"
)
