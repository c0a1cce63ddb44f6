package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// WatermillBus implements Bus using watermill's in-memory GoChannel.
// Delivery per subscription is FIFO, which is what preserves the
// per-connection ordering guarantee for inbound transport events.
type WatermillBus struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger watermill.LoggerAdapter
}

// metaKeyTopic carries our topic name through watermill's metadata.
const metaKeyTopic = "topic"

// NewWatermillBus initializes the in-memory bus.
func NewWatermillBus() *WatermillBus {
	logger := watermill.NewStdLogger(false, false)
	goChannel := gochannel.NewGoChannel(
		gochannel.Config{},
		logger,
	)

	return &WatermillBus{
		pub:    goChannel,
		sub:    goChannel,
		logger: logger,
	}
}

// Publish implements the Publisher interface.
func (b *WatermillBus) Publish(ctx context.Context, msg Message) error {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	return b.pub.Publish(msg.Topic, wmMsg)
}

// Subscribe implements the Subscriber interface. It returns once the
// subscription is active; message processing runs in the background until
// the context is cancelled.
func (b *WatermillBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := b.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for wmMsg := range messages {
			metadata := make(map[string]string)
			for k, v := range wmMsg.Metadata {
				if k != metaKeyTopic {
					metadata[k] = v
				}
			}
			msg := Message{
				Topic:    topic,
				Payload:  wmMsg.Payload,
				Metadata: metadata,
			}

			if err := handler(ctx, msg); err != nil {
				slog.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
				wmMsg.Nack()
			} else {
				wmMsg.Ack()
			}
		}
		slog.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts down the bus and stops message consumption.
func (b *WatermillBus) Close() error {
	return b.sub.Close()
}
