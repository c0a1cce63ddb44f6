// Package session composes the connection manager, room session, presence
// tracker, and message reconciler into the single contract the rest of the
// application consumes.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/connection"
	"github.com/chatsync/chatsync/internal/presence"
	"github.com/chatsync/chatsync/internal/pubsub"
	"github.com/chatsync/chatsync/internal/reconcile"
	"github.com/chatsync/chatsync/internal/room"
	"github.com/chatsync/chatsync/internal/topics"
)

// DefaultTypingStopDebounce is how long after the last keystroke the
// automatic typing-stop signal goes out.
const DefaultTypingStopDebounce = 1 * time.Second

// Facade is the application-facing chat session. Its lifetime is owned by
// the caller: Start wires the subscriptions, Close tears everything down.
type Facade struct {
	logger   *slog.Logger
	manager  *connection.Manager
	rooms    *room.Session
	tracker  *presence.Tracker
	rec      *reconcile.Reconciler
	bus      pubsub.Bus
	senderID string

	mu         sync.Mutex
	draft      string
	typingStop *time.Timer

	stopDebounce time.Duration
	cancel       context.CancelFunc
}

// Option is a function that configures a Facade.
type Option func(*Facade)

// WithTypingStopDebounce sets the inactivity window before the automatic
// typing-stop signal.
func WithTypingStopDebounce(d time.Duration) Option {
	return func(f *Facade) { f.stopDebounce = d }
}

// New assembles a session for the given local sender.
func New(manager *connection.Manager, rooms *room.Session, tracker *presence.Tracker,
	rec *reconcile.Reconciler, bus pubsub.Bus, senderID string, opts ...Option) *Facade {

	f := &Facade{
		logger:       slog.Default().With("component", "session"),
		manager:      manager,
		rooms:        rooms,
		tracker:      tracker,
		rec:          rec,
		bus:          bus,
		senderID:     senderID,
		stopDebounce: DefaultTypingStopDebounce,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Start wires all subscriptions and switch hooks. Cancelling the given
// context, or calling Close, ends every subscription.
func (f *Facade) Start(ctx context.Context) error {
	subCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	f.rooms.OnSwitch(func(oldRoom, newRoom string) {
		if oldRoom != "" {
			f.tracker.ClearRoomTyping(oldRoom)
		}
		f.rec.Reset(newRoom)
		// Kick off the initial page for the new room. Failures are left to
		// the consumer's explicit LoadOlderMessages retry.
		go func() {
			if _, err := f.rec.LoadOlder(context.Background()); err != nil {
				f.logger.Warn("Initial page load failed", "room_id", newRoom, "error", err)
			}
		}()
	})

	if err := f.tracker.Start(subCtx, f.bus); err != nil {
		cancel()
		return err
	}
	if err := f.bus.Subscribe(subCtx, topics.MessageReceived, f.handleMessage); err != nil {
		cancel()
		return err
	}
	if err := f.bus.Subscribe(subCtx, topics.ConnDown, f.handleConnDown); err != nil {
		cancel()
		return err
	}
	return nil
}

func (f *Facade) handleMessage(_ context.Context, msg pubsub.Message) error {
	var m chat.Message
	if err := (chat.Event{Name: chat.EventRoomMessage, Data: msg.Payload}).Decode(&m); err != nil {
		f.logger.Warn("Dropping malformed live message", "error", err)
		return nil
	}
	f.rec.AddLive(m)
	return nil
}

func (f *Facade) handleConnDown(context.Context, pubsub.Message) error {
	f.rooms.HandleDisconnect()

	f.mu.Lock()
	if f.typingStop != nil {
		f.typingStop.Stop()
		f.typingStop = nil
	}
	f.mu.Unlock()
	return nil
}

// SelectRoom makes roomID the active room.
func (f *Facade) SelectRoom(roomID string) {
	f.rooms.Select(roomID)
}

// SendMessage emits the draft-independent text as a chat message and an
// immediate typing-stop (sending implies no longer typing). The guards
// surface as sentinel errors the consumer can show as warnings.
func (f *Facade) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		f.logger.Warn("Cannot send message: empty text")
		return chat.ErrEmptyMessage
	}
	if f.senderID == "" {
		f.logger.Warn("Cannot send message: sender unknown")
		return chat.ErrUnknownSender
	}
	roomID := f.rooms.Joined()
	if roomID == "" {
		f.logger.Warn("Cannot send message: no room selected")
		return chat.ErrNoRoom
	}
	if f.manager.State() != connection.StateConnected {
		f.logger.Warn("Cannot send message: not connected")
		return chat.ErrNotConnected
	}

	ev, err := chat.NewEvent(chat.EventSendMessage, chat.Outbound{
		RoomID:   roomID,
		SenderID: f.senderID,
		Text:     text,
		IsTyping: false,
	})
	if err != nil {
		return err
	}
	if err := f.manager.Send(ctx, ev); err != nil {
		return err
	}

	f.mu.Lock()
	f.draft = ""
	if f.typingStop != nil {
		f.typingStop.Stop()
		f.typingStop = nil
	}
	f.mu.Unlock()

	f.sendTyping(ctx, roomID, false)
	return nil
}

// SetTypingState records the local draft and, when connected with a room
// joined, emits a typing-start followed by an automatic typing-stop after
// the debounce window of inactivity. Each call replaces the prior schedule.
func (f *Facade) SetTypingState(ctx context.Context, text string) {
	f.mu.Lock()
	f.draft = text
	f.mu.Unlock()

	roomID := f.rooms.Joined()
	if roomID == "" || f.senderID == "" || f.manager.State() != connection.StateConnected {
		return
	}

	f.sendTyping(ctx, roomID, true)

	f.mu.Lock()
	if f.typingStop != nil {
		f.typingStop.Stop()
	}
	f.typingStop = time.AfterFunc(f.stopDebounce, func() {
		f.mu.Lock()
		f.typingStop = nil
		f.mu.Unlock()
		f.sendTyping(context.Background(), roomID, false)
	})
	f.mu.Unlock()
}

// sendTyping emits a typing signal, best effort.
func (f *Facade) sendTyping(ctx context.Context, roomID string, isTyping bool) {
	ev, err := chat.NewEvent(chat.EventTyping, chat.Outbound{
		RoomID:   roomID,
		SenderID: f.senderID,
		IsTyping: isTyping,
	})
	if err != nil {
		return
	}
	if err := f.manager.Send(ctx, ev); err != nil {
		f.logger.Debug("Failed to send typing signal", "is_typing", isTyping, "error", err)
	}
}

// LoadOlderMessages fetches the next older history page. Concurrent
// invocations are suppressed by the reconciler's single-flight guard.
func (f *Facade) LoadOlderMessages(ctx context.Context) (bool, error) {
	return f.rec.LoadOlder(ctx)
}

// DeleteMessage removes a message, server-confirmed.
func (f *Facade) DeleteMessage(ctx context.Context, messageID string) error {
	return f.rec.Delete(ctx, messageID)
}

// Messages returns the reconciled message view for the active room.
func (f *Facade) Messages() []chat.Message {
	return f.rec.Messages()
}

// Connected reports whether the live connection is up.
func (f *Facade) Connected() bool {
	return f.manager.State() == connection.StateConnected
}

// ConnectionState returns the detailed connection state.
func (f *Facade) ConnectionState() connection.State {
	return f.manager.State()
}

// TypingUsers returns who is typing in the active room, excluding the
// local sender.
func (f *Facade) TypingUsers() []string {
	return f.tracker.TypingUsers(f.rooms.Joined(), f.senderID)
}

// OnlineUsers returns the currently online user ids.
func (f *Facade) OnlineUsers() []string {
	return f.tracker.OnlineUsers()
}

// Draft returns the current local draft text.
func (f *Facade) Draft() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draft
}

// HasMoreHistory reports whether older pages remain for the active room.
func (f *Facade) HasMoreHistory() bool {
	return f.rec.HasMore()
}

// Close ends all subscriptions and timers and tears the connection down.
// No timer or subscription survives Close.
func (f *Facade) Close() {
	if f.cancel != nil {
		f.cancel()
	}

	f.mu.Lock()
	if f.typingStop != nil {
		f.typingStop.Stop()
		f.typingStop = nil
	}
	f.mu.Unlock()

	f.rooms.Close()
	f.manager.Disconnect()
}
