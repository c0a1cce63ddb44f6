package devserver

import (
	"sync"

	"github.com/chatsync/chatsync/internal/chat"
)

// Store keeps room message history in memory, oldest first, and serves it
// back in cursor-delimited pages. The cursor is the id of the oldest
// message of the previously returned page; an empty cursor means "most
// recent page".
type Store struct {
	mu       sync.RWMutex
	rooms    map[string][]chat.Message
	pageSize int
}

// NewStore creates an empty store serving pages of the given size.
func NewStore(pageSize int) *Store {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Store{
		rooms:    make(map[string][]chat.Message),
		pageSize: pageSize,
	}
}

// Append adds one message to its room's history.
func (s *Store) Append(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[msg.RoomID] = append(s.rooms[msg.RoomID], msg)
}

// Seed replaces a room's history, oldest first.
func (s *Store) Seed(roomID string, msgs []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = append([]chat.Message(nil), msgs...)
}

// Page returns the page of messages older than the cursor, ascending by
// position. NextCursor is empty once the start of history is included.
func (s *Store) Page(roomID, cursor string) chat.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	end := len(msgs)
	if cursor != "" {
		end = 0
		for i, m := range msgs {
			if m.ID == cursor {
				end = i
				break
			}
		}
	}

	start := end - s.pageSize
	if start < 0 {
		start = 0
	}

	page := chat.Page{Messages: append([]chat.Message(nil), msgs[start:end]...)}
	if start > 0 {
		page.NextCursor = msgs[start].ID
	}
	return page
}

// Delete removes one message from a room's history. Reports whether the
// message existed.
func (s *Store) Delete(roomID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[roomID]
	for i, m := range msgs {
		if m.ID == messageID {
			s.rooms[roomID] = append(msgs[:i], msgs[i+1:]...)
			return true
		}
	}
	return false
}
