// Package room governs membership in exactly one logical room at a time.
// A switch always leaves the old room before joining the new one, and a
// join attempted before the connection is ready is retried on a short
// delay until it succeeds or a newer selection supersedes it.
package room

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/connection"
)

// DefaultJoinRetryDelay is the pause between join attempts while the
// connection is not yet ready.
const DefaultJoinRetryDelay = 500 * time.Millisecond

// Phase is the session's membership state.
type Phase int

const (
	// PhaseIdle means no room is selected.
	PhaseIdle Phase = iota

	// PhaseJoinPending means a room is selected but the join has not been
	// sent yet (connection not ready); a retry timer is armed.
	PhaseJoinPending

	// PhaseJoined means the join for the active room has been sent.
	PhaseJoined
)

// String returns the string representation of a Phase.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseJoinPending:
		return "join_pending"
	case PhaseJoined:
		return "joined"
	default:
		return "unknown"
	}
}

// Conn is the subset of the connection manager the session depends on.
type Conn interface {
	State() connection.State
	Send(ctx context.Context, ev chat.Event) error
}

// SwitchFunc is invoked after every successful room switch, outside the
// session lock. oldRoom is empty when no room was joined before.
type SwitchFunc func(oldRoom, newRoom string)

// Session tracks the single active room.
type Session struct {
	logger *slog.Logger
	conn   Conn

	mu      sync.Mutex
	phase   Phase
	joined  string
	pending string

	// gen identifies the newest Select call; a pending retry for an older
	// target becomes a no-op once superseded.
	gen   int
	retry *time.Timer

	retryDelay time.Duration
	onSwitch   []SwitchFunc
}

// Option is a function that configures a Session.
type Option func(*Session)

// WithJoinRetryDelay sets the retry delay for joins attempted while the
// connection is not ready.
func WithJoinRetryDelay(d time.Duration) Option {
	return func(s *Session) { s.retryDelay = d }
}

// NewSession creates an idle session bound to the given connection.
func NewSession(conn Conn, opts ...Option) *Session {
	s := &Session{
		logger:     slog.Default().With("component", "room"),
		conn:       conn,
		retryDelay: DefaultJoinRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSwitch registers a hook fired after every successful switch. The
// reconciler and typing state are cleared through these hooks so stale
// messages from a previous room cannot leak into the new room's view.
func (s *Session) OnSwitch(fn SwitchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSwitch = append(s.onSwitch, fn)
}

// Joined returns the active room id, or empty when not joined.
func (s *Session) Joined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseJoined {
		return ""
	}
	return s.joined
}

// Phase returns the current membership phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Select makes roomID the active room. Selecting the already-joined room
// is a no-op. When the connection is ready the leave/join pair is sent
// synchronously; otherwise the selection is queued and retried until the
// connection comes up or a newer Select replaces it.
func (s *Session) Select(roomID string) {
	if roomID == "" {
		return
	}

	s.mu.Lock()
	if s.phase == PhaseJoined && s.joined == roomID {
		s.mu.Unlock()
		return
	}

	s.gen++
	s.stopRetryLocked()

	if s.conn.State() != connection.StateConnected {
		s.logger.Debug("Connection not ready, queueing join", "room_id", roomID)
		s.pending = roomID
		s.phase = PhaseJoinPending
		s.armRetryLocked()
		s.mu.Unlock()
		return
	}

	hooks, old := s.joinLocked(roomID)
	s.mu.Unlock()
	s.fireSwitch(hooks, old, roomID)
}

// HandleDisconnect resets membership when the connection goes down. The
// active room is re-queued as pending so a reconnect rejoins it.
func (s *Session) HandleDisconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	s.stopRetryLocked()

	if s.phase == PhaseJoined {
		s.pending = s.joined
	}
	s.joined = ""

	if s.pending == "" {
		s.phase = PhaseIdle
		return
	}
	s.phase = PhaseJoinPending
	s.armRetryLocked()
}

// Close cancels any pending retry.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.stopRetryLocked()
}

// joinLocked sends the leave/join pair and updates membership. The leave
// for the previous room always goes out before the join for the new one,
// and a room is never left twice. Returns the hooks to fire and the old
// room id.
func (s *Session) joinLocked(roomID string) ([]SwitchFunc, string) {
	ctx := context.Background()
	old := s.joined

	if old != "" && old != roomID {
		leave, _ := chat.NewEvent(chat.EventLeaveRoom, chat.RoomRef{RoomID: old})
		if err := s.conn.Send(ctx, leave); err != nil {
			s.logger.Warn("Failed to send leave, queueing switch", "room_id", old, "error", err)
			s.queueLocked(roomID)
			return nil, ""
		}
		s.logger.Info("Left room", "room_id", old)
		s.joined = ""
	}

	join, _ := chat.NewEvent(chat.EventJoinRoom, chat.RoomRef{RoomID: roomID})
	if err := s.conn.Send(ctx, join); err != nil {
		s.logger.Warn("Failed to send join, queueing switch", "room_id", roomID, "error", err)
		s.queueLocked(roomID)
		return nil, ""
	}

	s.logger.Info("Joined room", "room_id", roomID)
	s.joined = roomID
	s.pending = ""
	s.phase = PhaseJoined
	return s.onSwitch, old
}

// queueLocked falls back to the pending/retry path after a send raced a
// connection loss. The selection is never dropped.
func (s *Session) queueLocked(roomID string) {
	s.pending = roomID
	s.phase = PhaseJoinPending
	s.armRetryLocked()
}

func (s *Session) armRetryLocked() {
	gen := s.gen
	s.retry = time.AfterFunc(s.retryDelay, func() { s.onRetry(gen) })
}

func (s *Session) onRetry(gen int) {
	s.mu.Lock()
	if gen != s.gen || s.pending == "" {
		s.mu.Unlock()
		return
	}
	s.retry = nil

	if s.conn.State() != connection.StateConnected {
		s.armRetryLocked()
		s.mu.Unlock()
		return
	}

	roomID := s.pending
	hooks, old := s.joinLocked(roomID)
	s.mu.Unlock()
	s.fireSwitch(hooks, old, roomID)
}

func (s *Session) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
}

func (s *Session) fireSwitch(hooks []SwitchFunc, oldRoom, newRoom string) {
	for _, fn := range hooks {
		fn(oldRoom, newRoom)
	}
}
