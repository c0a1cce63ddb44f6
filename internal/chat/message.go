// Package chat holds the domain types shared by the synchronization engine:
// messages, pagination pages, and the wire events exchanged with the server.
package chat

import "time"

// Message is one chat message. The ID is globally unique per room; the
// reconciler keys its merge on it. CreatedAt, not arrival order, decides
// the final position in the reconciled view.
type Message struct {
	ID        string    `json:"_id" validate:"required"`
	RoomID    string    `json:"roomId" validate:"required"`
	SenderID  string    `json:"senderId" validate:"required"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Page is one batch of historical messages. Messages are ordered oldest
// first within the page. An empty NextCursor means the start of the room's
// history has been reached.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"nextCursor"`
}

// TypingKey identifies one ephemeral typing signal.
type TypingKey struct {
	RoomID   string
	SenderID string
}
