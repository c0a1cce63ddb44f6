// Package devserver is a self-contained in-memory topic-chat server: the
// REST pagination endpoint and the live websocket transport the client
// engine consumes. It exists so the engine can run end to end locally and
// in tests without a real backend.
package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chatsync/chatsync/internal/chat"
)

// Server serves the REST history API and the websocket endpoint.
type Server struct {
	logger *slog.Logger
	echo   *echo.Echo
	store  *Store

	// token, when set, is the only credential accepted on both surfaces.
	token string

	mu      sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]map[*client]struct{}
	users   map[string]int
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan chat.Event
	rooms  map[string]struct{}
}

// Option is a function that configures a Server.
type Option func(*Server)

// WithToken requires the given bearer token on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithPageSize sets the history page size.
func WithPageSize(n int) Option {
	return func(s *Server) { s.store = NewStore(n) }
}

// New creates a server with empty history.
func New(opts ...Option) *Server {
	s := &Server{
		logger:  slog.Default().With("component", "devserver"),
		echo:    echo.New(),
		store:   NewStore(20),
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]map[*client]struct{}),
		users:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.echo.HideBanner = true
	s.echo.GET("/api/rooms/:id/messages", s.handlePage)
	s.echo.DELETE("/api/rooms/:id/messages/:mid", s.handleDelete)
	s.echo.GET("/ws", s.handleSocket)
	return s
}

// Store exposes the message store for seeding.
func (s *Server) Store() *Store { return s.store }

// Handler returns the HTTP handler, for mounting under httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Info("Dev server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if strings.TrimPrefix(header, "Bearer ") == s.token {
		return true
	}
	return r.URL.Query().Get("token") == s.token
}

func (s *Server) handlePage(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return c.NoContent(http.StatusUnauthorized)
	}
	page := s.store.Page(c.Param("id"), c.QueryParam("cursor"))
	return c.JSON(http.StatusOK, page)
}

func (s *Server) handleDelete(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return c.NoContent(http.StatusUnauthorized)
	}
	if !s.store.Delete(c.Param("id"), c.Param("mid")) {
		return c.NoContent(http.StatusNotFound)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSocket(c echo.Context) error {
	if !s.authorized(c.Request()) {
		return c.NoContent(http.StatusUnauthorized)
	}

	userID := c.QueryParam("user")
	if userID == "" {
		userID = "user-" + uuid.NewString()[:8]
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Local development server; origin checks are moot.
	})
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return err
	}

	cl := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan chat.Event, 64),
		rooms:  make(map[string]struct{}),
	}

	s.register(cl)
	go cl.writePump(s.logger)

	// Handshake ack first, then the presence snapshot, matching what the
	// client dialer expects as the first frame.
	cl.enqueue(chat.Event{Name: chat.EventConnected})
	s.sendSnapshot(cl)

	s.readLoop(cl)
	return nil
}

func (s *Server) readLoop(cl *client) {
	defer s.unregister(cl)

	for {
		_, data, err := cl.conn.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				s.logger.Info("Client closed connection", "user_id", cl.userID)
			} else {
				s.logger.Debug("Client read error", "user_id", cl.userID, "error", err)
			}
			return
		}

		var ev chat.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			cl.enqueue(errorEvent("malformed frame"))
			continue
		}
		s.handleEvent(cl, ev)
	}
}

func (s *Server) handleEvent(cl *client, ev chat.Event) {
	switch ev.Name {
	case chat.EventJoinRoom:
		var ref chat.RoomRef
		if err := ev.Decode(&ref); err != nil {
			cl.enqueue(errorEvent("invalid join payload"))
			return
		}
		s.join(cl, ref.RoomID)

	case chat.EventLeaveRoom:
		var ref chat.RoomRef
		if err := ev.Decode(&ref); err != nil {
			cl.enqueue(errorEvent("invalid leave payload"))
			return
		}
		s.leave(cl, ref.RoomID)

	case chat.EventSendMessage:
		var out chat.Outbound
		if err := ev.Decode(&out); err != nil {
			cl.enqueue(errorEvent("invalid message payload"))
			return
		}
		msg := chat.Message{
			ID:        uuid.NewString(),
			RoomID:    out.RoomID,
			SenderID:  out.SenderID,
			Text:      out.Text,
			CreatedAt: time.Now().UTC(),
		}
		s.store.Append(msg)
		payload, _ := chat.NewEvent(chat.EventRoomMessage, msg)
		// The sender gets the echo too; deduplication is the client's job.
		s.broadcastRoom(out.RoomID, payload, nil)

	case chat.EventTyping:
		var out chat.Outbound
		if err := ev.Decode(&out); err != nil {
			cl.enqueue(errorEvent("invalid typing payload"))
			return
		}
		payload, _ := chat.NewEvent(chat.EventUserTyping, chat.TypingChanged{
			RoomID:   out.RoomID,
			SenderID: out.SenderID,
			IsTyping: out.IsTyping,
		})
		s.broadcastRoom(out.RoomID, payload, cl)

	default:
		s.logger.Debug("Ignoring unknown event", "event", ev.Name, "user_id", cl.userID)
	}
}

func (s *Server) register(cl *client) {
	s.mu.Lock()
	s.clients[cl] = struct{}{}
	s.users[cl.userID]++
	first := s.users[cl.userID] == 1
	s.mu.Unlock()

	if first {
		s.broadcastPresenceDelta(cl.userID, true)
	}
	s.logger.Info("Client connected", "user_id", cl.userID)
}

func (s *Server) unregister(cl *client) {
	s.mu.Lock()
	if _, ok := s.clients[cl]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, cl)
	for roomID := range cl.rooms {
		delete(s.rooms[roomID], cl)
	}
	s.users[cl.userID]--
	last := s.users[cl.userID] == 0
	if last {
		delete(s.users, cl.userID)
	}
	close(cl.send)
	s.mu.Unlock()

	cl.conn.Close(websocket.StatusNormalClosure, "server cleanup")
	if last {
		s.broadcastPresenceDelta(cl.userID, false)
	}
	s.logger.Info("Client disconnected", "user_id", cl.userID)
}

func (s *Server) join(cl *client, roomID string) {
	s.mu.Lock()
	if s.rooms[roomID] == nil {
		s.rooms[roomID] = make(map[*client]struct{})
	}
	s.rooms[roomID][cl] = struct{}{}
	cl.rooms[roomID] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("Client joined room", "user_id", cl.userID, "room_id", roomID)
}

func (s *Server) leave(cl *client, roomID string) {
	s.mu.Lock()
	delete(s.rooms[roomID], cl)
	delete(cl.rooms, roomID)
	s.mu.Unlock()
	s.logger.Info("Client left room", "user_id", cl.userID, "room_id", roomID)
}

// broadcastRoom sends an event to every member of a room, optionally
// excluding one client.
func (s *Server) broadcastRoom(roomID string, ev chat.Event, except *client) {
	s.mu.Lock()
	members := make([]*client, 0, len(s.rooms[roomID]))
	for cl := range s.rooms[roomID] {
		if cl != except {
			members = append(members, cl)
		}
	}
	s.mu.Unlock()

	for _, cl := range members {
		cl.enqueue(ev)
	}
}

func (s *Server) broadcastPresenceDelta(userID string, isOnline bool) {
	ev, _ := chat.NewEvent(chat.EventUserStatusChanged, chat.PresenceDelta{
		UserID:   userID,
		IsOnline: isOnline,
	})

	s.mu.Lock()
	all := make([]*client, 0, len(s.clients))
	for cl := range s.clients {
		all = append(all, cl)
	}
	s.mu.Unlock()

	for _, cl := range all {
		cl.enqueue(ev)
	}
}

func (s *Server) sendSnapshot(cl *client) {
	s.mu.Lock()
	users := make([]string, 0, len(s.users))
	for u := range s.users {
		users = append(users, u)
	}
	s.mu.Unlock()

	ev, _ := chat.NewEvent(chat.EventOnlineUsersUpdated, chat.PresenceSnapshot{OnlineUsers: users})
	cl.enqueue(ev)
}

func errorEvent(msg string) chat.Event {
	ev, _ := chat.NewEvent(chat.EventError, chat.ErrorInfo{Message: msg})
	return ev
}

// enqueue hands an event to the client's write pump without blocking.
// A full buffer means the client is lagging badly; the event is dropped.
func (cl *client) enqueue(ev chat.Event) {
	defer func() {
		// The send channel may close concurrently with an enqueue from a
		// broadcast; a dropped event for a departing client is fine.
		_ = recover()
	}()
	select {
	case cl.send <- ev:
	default:
		slog.Warn("Client send buffer full, dropping event", "user_id", cl.userID, "event", ev.Name)
	}
}

func (cl *client) writePump(logger *slog.Logger) {
	for ev := range cl.send {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = cl.conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			logger.Debug("Client write error", "user_id", cl.userID, "error", err)
			return
		}
	}
	cl.conn.Close(websocket.StatusNormalClosure, "server cleanup")
}
