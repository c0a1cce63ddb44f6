// Package presence tracks who is online and who is typing, derived from
// events pushed over the live connection. Typing signals are ephemeral:
// they expire on a timer unless refreshed, and an explicit stop clears
// them immediately.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/pubsub"
	"github.com/chatsync/chatsync/internal/topics"
)

// DefaultTypingExpiry is how long a typing signal stays active without a
// refresh before reverting to inactive on its own.
const DefaultTypingExpiry = 3 * time.Second

// Tracker maintains the online-user set and the per-(room, sender) typing
// map. It owns this state exclusively; other components query it through
// methods and never hold references into it.
type Tracker struct {
	logger *slog.Logger

	mu     sync.Mutex
	online map[string]struct{}
	typing map[chat.TypingKey]*time.Timer

	typingExpiry time.Duration
}

// Option is a function that configures a Tracker.
type Option func(*Tracker)

// WithTypingExpiry sets a custom typing expiry window. Tests shrink it.
func WithTypingExpiry(d time.Duration) Option {
	return func(t *Tracker) { t.typingExpiry = d }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		logger:       slog.Default().With("component", "presence"),
		online:       make(map[string]struct{}),
		typing:       make(map[chat.TypingKey]*time.Timer),
		typingExpiry: DefaultTypingExpiry,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start subscribes the tracker to the bus. Cancelling the context ends all
// subscriptions.
func (t *Tracker) Start(ctx context.Context, sub pubsub.Subscriber) error {
	if err := sub.Subscribe(ctx, topics.PresenceDelta, t.handleDelta); err != nil {
		return err
	}
	if err := sub.Subscribe(ctx, topics.PresenceSnapshot, t.handleSnapshot); err != nil {
		return err
	}
	if err := sub.Subscribe(ctx, topics.TypingChanged, t.handleTyping); err != nil {
		return err
	}
	return sub.Subscribe(ctx, topics.ConnDown, func(context.Context, pubsub.Message) error {
		t.Reset()
		return nil
	})
}

func (t *Tracker) handleDelta(_ context.Context, msg pubsub.Message) error {
	var delta chat.PresenceDelta
	if err := (chat.Event{Name: chat.EventUserStatusChanged, Data: msg.Payload}).Decode(&delta); err != nil {
		t.logger.Warn("Dropping malformed presence delta", "error", err)
		return nil
	}
	t.ApplyDelta(delta.UserID, delta.IsOnline)
	return nil
}

func (t *Tracker) handleSnapshot(_ context.Context, msg pubsub.Message) error {
	var snap chat.PresenceSnapshot
	if err := (chat.Event{Name: chat.EventOnlineUsersUpdated, Data: msg.Payload}).Decode(&snap); err != nil {
		t.logger.Warn("Dropping malformed presence snapshot", "error", err)
		return nil
	}
	t.ApplySnapshot(snap.OnlineUsers)
	return nil
}

func (t *Tracker) handleTyping(_ context.Context, msg pubsub.Message) error {
	var signal chat.TypingChanged
	if err := (chat.Event{Name: chat.EventUserTyping, Data: msg.Payload}).Decode(&signal); err != nil {
		t.logger.Warn("Dropping malformed typing signal", "error", err)
		return nil
	}
	t.SetTyping(signal.RoomID, signal.SenderID, signal.IsTyping)
	return nil
}

// ApplyDelta mutates the online set with a single user change.
func (t *Tracker) ApplyDelta(userID string, isOnline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isOnline {
		t.online[userID] = struct{}{}
	} else {
		delete(t.online, userID)
	}
	t.logger.Debug("Presence delta applied", "user_id", userID, "online", isOnline, "online_count", len(t.online))
}

// ApplySnapshot replaces the online set wholesale.
func (t *Tracker) ApplySnapshot(users []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]struct{}, len(users))
	for _, u := range users {
		t.online[u] = struct{}{}
	}
	t.logger.Debug("Presence snapshot applied", "online_count", len(t.online))
}

// SetTyping records a typing signal for (roomID, senderID). A start
// (re)arms the expiry timer for that key; a stop clears the entry and
// cancels its timer immediately.
func (t *Tracker) SetTyping(roomID, senderID string, isTyping bool) {
	key := chat.TypingKey{RoomID: roomID, SenderID: senderID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, exists := t.typing[key]; exists {
		timer.Stop()
		delete(t.typing, key)
	}
	if !isTyping {
		return
	}

	t.typing[key] = time.AfterFunc(t.typingExpiry, func() { t.expireTyping(key) })
}

func (t *Tracker) expireTyping(key chat.TypingKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.typing[key]; exists {
		delete(t.typing, key)
		t.logger.Debug("Typing signal expired", "room_id", key.RoomID, "sender_id", key.SenderID)
	}
}

// OnlineUsers returns the currently online user ids, sorted.
func (t *Tracker) OnlineUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	users := make([]string, 0, len(t.online))
	for u := range t.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// IsOnline reports whether a single user is currently online.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[userID]
	return ok
}

// TypingUsers returns the sender ids currently typing in the given room,
// excluding the given sender (the local user never sees their own typing
// indicator), sorted.
func (t *Tracker) TypingUsers(roomID, excludeSender string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var users []string
	for key := range t.typing {
		if key.RoomID == roomID && key.SenderID != excludeSender {
			users = append(users, key.SenderID)
		}
	}
	sort.Strings(users)
	return users
}

// ClearRoomTyping drops all typing signals for one room. Called on room
// switch so stale indicators cannot leak into the next room's view.
func (t *Tracker) ClearRoomTyping(roomID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.typing {
		if key.RoomID == roomID {
			timer.Stop()
			delete(t.typing, key)
		}
	}
}

// Reset cancels every typing timer and clears all state. Called when the
// owning connection goes down.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, timer := range t.typing {
		timer.Stop()
		delete(t.typing, key)
	}
	t.online = make(map[string]struct{})
	t.logger.Debug("Presence state cleared")
}
