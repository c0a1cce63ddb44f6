// Package connection owns the lifecycle of the single live transport
// connection: dialing with the current credential, watchdog-bounded
// attempts, bounded retry on transient failure, and fan-out of inbound
// events onto the bus.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chatsync/chatsync/internal/chat"
	"github.com/chatsync/chatsync/internal/credentials"
	"github.com/chatsync/chatsync/internal/pubsub"
	"github.com/chatsync/chatsync/internal/topics"
	"github.com/chatsync/chatsync/internal/transport"
)

const (
	// DefaultWatchdogTimeout bounds a single connection attempt.
	DefaultWatchdogTimeout = 15 * time.Second

	// DefaultMaxAttempts caps consecutive failed attempts before giving up.
	DefaultMaxAttempts = 3

	// DefaultRetryDelay is the pause before retrying after a transient
	// disconnect or failed dial.
	DefaultRetryDelay = 2 * time.Second

	// DefaultWatchdogRetryDelay is the pause before retrying after the
	// watchdog aborted an attempt.
	DefaultWatchdogRetryDelay = 3 * time.Second

	// DefaultPollInterval is how often the credential source is re-read.
	DefaultPollInterval = 10 * time.Second
)

var errAttemptTimeout = errors.New("connection attempt timed out")

// Manager drives the connection lifecycle. At most one transport exists at
// any time; starting a new attempt always tears down the previous one
// first. All inbound events are republished on the bus in arrival order.
type Manager struct {
	logger    *slog.Logger
	dialer    transport.Dialer
	publisher pubsub.Publisher
	source    credentials.Source
	nudge     chan struct{}

	mu       sync.Mutex
	state    State
	token    string
	conn     transport.Conn
	attempts int
	lastErr  error

	// gen identifies the current connection attempt. Timer and pump
	// callbacks capture it and become no-ops once superseded, which is what
	// keeps stale callbacks from mutating state after a teardown.
	gen int

	watchdog   *time.Timer
	retry      *time.Timer
	dialCancel context.CancelFunc
	pumpCancel context.CancelFunc

	// queue holds bus messages produced under the lock, published after it
	// is released.
	queue []pubsub.Message

	maxAttempts        int
	watchdogTimeout    time.Duration
	retryDelay         time.Duration
	watchdogRetryDelay time.Duration
	pollInterval       time.Duration
}

// Option is a function that configures a Manager.
type Option func(*Manager)

// WithMaxAttempts caps consecutive failed connection attempts.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithWatchdogTimeout bounds a single connection attempt.
func WithWatchdogTimeout(d time.Duration) Option {
	return func(m *Manager) { m.watchdogTimeout = d }
}

// WithRetryDelay sets the pause before retrying a transient failure.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.retryDelay = d }
}

// WithWatchdogRetryDelay sets the pause before retrying a timed-out attempt.
func WithWatchdogRetryDelay(d time.Duration) Option {
	return func(m *Manager) { m.watchdogRetryDelay = d }
}

// WithPollInterval sets the credential poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// NewManager creates a connection manager. Run starts the credential poll;
// Connect and Disconnect may also be called directly.
func NewManager(dialer transport.Dialer, publisher pubsub.Publisher, source credentials.Source, opts ...Option) *Manager {
	m := &Manager{
		logger:             slog.Default().With("component", "connection"),
		dialer:             dialer,
		publisher:          publisher,
		source:             source,
		nudge:              make(chan struct{}, 1),
		state:              StateDisconnected,
		maxAttempts:        DefaultMaxAttempts,
		watchdogTimeout:    DefaultWatchdogTimeout,
		retryDelay:         DefaultRetryDelay,
		watchdogRetryDelay: DefaultWatchdogRetryDelay,
		pollInterval:       DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the most recent connection failure, if any.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect establishes a connection carrying the given credential.
// It is a no-op when the same token is already connected or connecting;
// a different token forces a full teardown and a fresh dial.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if token == "" {
		m.mu.Unlock()
		return
	}
	if m.token == token && m.conn != nil && m.state == StateConnected {
		m.logger.Debug("Already connected with same token")
		m.mu.Unlock()
		return
	}
	if m.token == token && m.state == StateConnecting {
		m.logger.Debug("Connection attempt already in progress")
		m.mu.Unlock()
		return
	}

	m.logger.Info("Connecting", "token_changed", m.token != token)
	m.token = token
	m.attempts = 0
	m.startAttemptLocked()
	m.mu.Unlock()
	m.flush()
}

// Disconnect tears the transport down unconditionally and clears all
// derived state. Safe to call at any time, including when already
// disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disconnectLocked("client disconnect")
	m.mu.Unlock()
	m.flush()
}

// Send emits an event on the live transport. Returns chat.ErrNotConnected
// unless the state is Connected.
func (m *Manager) Send(ctx context.Context, ev chat.Event) error {
	m.mu.Lock()
	conn := m.conn
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || conn == nil {
		return chat.ErrNotConnected
	}
	return conn.Send(ctx, ev)
}

// Run executes the credential poll loop until the context is cancelled.
// The poll is what detects tokens set, changed, or cleared out-of-band.
// If the source supports change notification, it only accelerates the
// next poll; the ticker remains the mechanism of record.
func (m *Manager) Run(ctx context.Context) {
	if w, ok := m.source.(credentials.Watcher); ok {
		if err := w.Watch(ctx, m.Nudge); err != nil {
			m.logger.Debug("Credential watch unavailable, polling only", "error", err)
		}
	}

	m.poll()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Disconnect()
			return
		case <-ticker.C:
			m.poll()
		case <-m.nudge:
			m.poll()
		}
	}
}

// Nudge requests an early credential poll. Never blocks.
func (m *Manager) Nudge() {
	select {
	case m.nudge <- struct{}{}:
	default:
	}
}

func (m *Manager) poll() {
	token, err := m.source.Token()
	if err != nil {
		m.logger.Warn("Failed to read credential", "error", err)
		return
	}

	m.mu.Lock()
	current, state := m.token, m.state
	m.mu.Unlock()

	switch {
	case token == "" && (current != "" || state != StateDisconnected):
		m.logger.Info("Credential cleared, disconnecting")
		m.Disconnect()
	case token != "" && token != current:
		m.logger.Info("Credential changed, reconnecting")
		m.Connect(token)
	case token != "" && state == StateDisconnected:
		m.logger.Info("Valid credential with no connection, reconnecting")
		m.Connect(token)
	}
}

// startAttemptLocked tears down any prior transport and launches a dial
// guarded by the watchdog.
func (m *Manager) startAttemptLocked() {
	m.teardownLocked("superseded by new connection attempt")
	m.setStateLocked(StateConnecting)

	m.gen++
	gen := m.gen

	dialCtx, cancel := context.WithCancel(context.Background())
	m.dialCancel = cancel
	m.watchdog = time.AfterFunc(m.watchdogTimeout, func() { m.onWatchdog(gen) })

	go m.dial(gen, dialCtx, m.token)
}

func (m *Manager) dial(gen int, ctx context.Context, token string) {
	conn, err := m.dialer.Dial(ctx, token)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		// A newer attempt or teardown superseded this dial.
		if conn != nil {
			conn.Close("stale connection attempt")
		}
		return
	}

	m.stopTimersLocked()
	m.dialCancel = nil

	if err != nil {
		m.lastErr = err
		switch {
		case errors.Is(err, chat.ErrAuthFailed):
			// Fatal for this credential: retrying with the same bad token
			// would only repeat the rejection.
			m.logger.Warn("Authentication failed, tearing down")
			m.disconnectLocked("authentication failed")
		case ctx.Err() != nil:
			// The watchdog or a teardown cancelled the dial and has already
			// done the accounting.
		default:
			m.logger.Warn("Connection attempt failed", "error", err)
			m.failAttemptLocked(m.retryDelay)
		}
		m.mu.Unlock()
		m.flush()
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	m.setStateLocked(StateConnected)
	m.logger.Info("Connected")

	pumpCtx, cancel := context.WithCancel(context.Background())
	m.pumpCancel = cancel
	go m.readPump(gen, conn, pumpCtx)

	m.mu.Unlock()
	m.flush()
}

// onWatchdog fires when no dial result arrived within the attempt window.
func (m *Manager) onWatchdog(gen int) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	m.logger.Warn("Connection attempt timed out", "attempt", m.attempts+1)
	// Invalidate the in-flight dial so a late success cannot resurrect the
	// attempt this watchdog just failed.
	m.gen++
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.lastErr = errAttemptTimeout
	m.failAttemptLocked(m.watchdogRetryDelay)
	m.mu.Unlock()
	m.flush()
}

// failAttemptLocked counts a failed attempt and either schedules a retry
// or gives up once the budget is exhausted.
func (m *Manager) failAttemptLocked(delay time.Duration) {
	m.attempts++
	if m.attempts >= m.maxAttempts {
		m.logger.Warn("Max connection attempts reached, giving up", "attempts", m.attempts)
		m.disconnectLocked("retry attempts exhausted")
		return
	}

	m.setStateLocked(StateFailed)
	m.logger.Info("Retrying connection", "attempt", m.attempts, "max", m.maxAttempts, "delay", delay)

	gen := m.gen
	m.retry = time.AfterFunc(delay, func() { m.onRetry(gen) })
}

func (m *Manager) onRetry(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.token == "" {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	m.startAttemptLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *Manager) readPump(gen int, conn transport.Conn, ctx context.Context) {
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			m.onConnLost(gen, err)
			return
		}
		m.dispatch(ev)
	}
}

// dispatch republishes one inbound transport event on the bus. It runs on
// the single pump goroutine, which preserves per-connection FIFO order.
func (m *Manager) dispatch(ev chat.Event) {
	var topic string
	switch ev.Name {
	case chat.EventRoomMessage, chat.EventSendMessage:
		topic = topics.MessageReceived
	case chat.EventUserTyping:
		topic = topics.TypingChanged
	case chat.EventUserStatusChanged:
		topic = topics.PresenceDelta
	case chat.EventOnlineUsersUpdated:
		topic = topics.PresenceSnapshot
	case chat.EventError:
		var info chat.ErrorInfo
		if err := json.Unmarshal(ev.Data, &info); err == nil {
			m.logger.Warn("Server error", "message", info.Message)
		}
		return
	default:
		m.logger.Debug("Ignoring unknown transport event", "event", ev.Name)
		return
	}

	msg := pubsub.Message{Topic: topic, Payload: ev.Data}
	if err := m.publisher.Publish(context.Background(), msg); err != nil {
		m.logger.Error("Failed to publish inbound event", "topic", topic, "error", err)
	}
}

func (m *Manager) onConnLost(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen {
		// The loss was caused by our own teardown.
		m.mu.Unlock()
		return
	}

	m.logger.Info("Connection lost", "error", err)
	m.conn = nil
	m.pumpCancel = nil
	m.lastErr = err
	m.setStateLocked(StateDisconnected)
	m.queueDownLocked("connection lost")

	if transport.Transient(err) && m.token != "" {
		m.failAttemptLocked(m.retryDelay)
	} else {
		m.disconnectLocked("connection closed")
	}
	m.mu.Unlock()
	m.flush()
}

// disconnectLocked is the terminal teardown: transport gone, credential
// forgotten, counters reset. The credential poll may later start over with
// a fresh budget.
func (m *Manager) disconnectLocked(reason string) {
	m.teardownLocked(reason)
	m.token = ""
	m.attempts = 0
	m.gen++
	m.setStateLocked(StateDisconnected)
	m.queueDownLocked(reason)
}

// teardownLocked closes the transport and cancels every outstanding timer
// and the read pump. No timer survives a teardown.
func (m *Manager) teardownLocked(reason string) {
	m.stopTimersLocked()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	if m.pumpCancel != nil {
		m.pumpCancel()
		m.pumpCancel = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(reason); err != nil {
			m.logger.Debug("Error closing transport", "error", err)
		}
		m.conn = nil
		m.queueDownLocked(reason)
	}
}

func (m *Manager) stopTimersLocked() {
	if m.watchdog != nil {
		m.watchdog.Stop()
		m.watchdog = nil
	}
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	payload, _ := json.Marshal(map[string]string{"state": s.String()})
	m.queue = append(m.queue, pubsub.Message{Topic: topics.ConnState, Payload: payload})
}

func (m *Manager) queueDownLocked(reason string) {
	payload, _ := json.Marshal(map[string]string{"reason": reason})
	m.queue = append(m.queue, pubsub.Message{Topic: topics.ConnDown, Payload: payload})
}

// flush publishes messages queued under the lock. Publishing happens
// outside the lock so a synchronous subscriber calling back into the
// manager cannot deadlock.
func (m *Manager) flush() {
	m.mu.Lock()
	queue := m.queue
	m.queue = nil
	m.mu.Unlock()

	for _, msg := range queue {
		if err := m.publisher.Publish(context.Background(), msg); err != nil {
			m.logger.Error("Failed to publish lifecycle event", "topic", msg.Topic, "error", err)
		}
	}
}
