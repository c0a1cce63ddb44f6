package chat

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Wire event names. Outbound events are emitted by the client; inbound
// events arrive over the live transport and are fanned out on the bus.
const (
	// Outbound.
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventSendMessage = "send_message"
	EventTyping      = "typing"

	// Inbound.
	EventConnected          = "connected"
	EventRoomMessage        = "room_message"
	EventUserTyping         = "user_typing"
	EventUserStatusChanged  = "user_status_changed"
	EventOnlineUsersUpdated = "online_users_updated"
	EventError              = "error_message"
)

var validate = validator.New()

// Event is the JSON envelope every frame on the live transport uses.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an envelope around the given payload.
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: data}, nil
}

// Decode unmarshals the event payload into v and validates it. Inbound
// events from the transport always pass through here before any component
// state is touched.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Name, err)
	}
	return nil
}

// RoomRef is the payload of join_room and leave_room.
type RoomRef struct {
	RoomID string `json:"roomId" validate:"required"`
}

// Outbound is the payload of send_message and typing. A send carries text
// with IsTyping false; a typing signal carries empty text and the flag.
type Outbound struct {
	RoomID   string `json:"roomId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
	Text     string `json:"text"`
	IsTyping bool   `json:"isTyping"`
}

// TypingChanged is the payload of user_typing.
type TypingChanged struct {
	RoomID   string `json:"roomId" validate:"required"`
	SenderID string `json:"senderId" validate:"required"`
	IsTyping bool   `json:"isTyping"`
}

// PresenceDelta is the payload of user_status_changed.
type PresenceDelta struct {
	UserID   string `json:"userId" validate:"required"`
	IsOnline bool   `json:"isOnline"`
}

// PresenceSnapshot is the payload of online_users_updated. It replaces the
// tracked online set wholesale.
type PresenceSnapshot struct {
	OnlineUsers []string `json:"onlineUsers"`
}

// ErrorInfo is the payload of error_message.
type ErrorInfo struct {
	Message string `json:"message"`
}
