package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_EnvelopeShape(t *testing.T) {
	ev, err := NewEvent(EventJoinRoom, RoomRef{RoomID: "general"})
	require.NoError(t, err)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"join_room","data":{"roomId":"general"}}`, string(data))
}

func TestEvent_DecodeValidates(t *testing.T) {
	ev := Event{Name: EventUserTyping, Data: []byte(`{"roomId":"r1","senderId":"alice","isTyping":true}`)}

	var signal TypingChanged
	require.NoError(t, ev.Decode(&signal))
	assert.Equal(t, "r1", signal.RoomID)
	assert.Equal(t, "alice", signal.SenderID)
	assert.True(t, signal.IsTyping)
}

func TestEvent_DecodeRejectsMissingRequiredFields(t *testing.T) {
	ev := Event{Name: EventUserTyping, Data: []byte(`{"isTyping":true}`)}
	var signal TypingChanged
	assert.Error(t, ev.Decode(&signal))
}

func TestEvent_DecodeRejectsMalformedJSON(t *testing.T) {
	ev := Event{Name: EventRoomMessage, Data: []byte(`{`)}
	var m Message
	assert.Error(t, ev.Decode(&m))
}

func TestMessage_WireFormat(t *testing.T) {
	raw := `{
		"_id": "m1",
		"roomId": "general",
		"senderId": "alice",
		"text": "hello",
		"createdAt": "2026-02-10T12:00:00Z"
	}`

	var m Message
	require.NoError(t, (Event{Name: EventRoomMessage, Data: []byte(raw)}).Decode(&m))
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "general", m.RoomID)
	assert.Equal(t, "alice", m.SenderID)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC), m.CreatedAt)
	assert.True(t, m.UpdatedAt.IsZero())
}

func TestNewEvent_NoPayload(t *testing.T) {
	ev, err := NewEvent(EventConnected, nil)
	require.NoError(t, err)
	assert.Nil(t, ev.Data)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"connected"}`, string(data))
}
