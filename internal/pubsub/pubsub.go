package pubsub

import (
	"context"
)

// Message is the structure passed between components on the bus.
// It is intentionally simple to act as a wrapper for raw event data.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "chat.message.received").
	Topic string
	// Payload contains the raw event data, usually JSON.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context (e.g., timestamps).
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
// Cancelling the context passed to Subscribe is the unsubscribe token:
// it ends the delivery loop for that subscription.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// Bus combines both halves of the contract. The connection manager publishes
// inbound transport events on it and every other component subscribes.
type Bus interface {
	Publisher
	Subscriber
}
