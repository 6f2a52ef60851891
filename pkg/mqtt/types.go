package mqtt

import (
	"context"
)

// MessageHandler is the callback invoked for received MQTT messages.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is a generic MQTT v5 client. It hides the underlying paho
// machinery: connection management, re-subscription and offline queueing.
type Client interface {
	// Start initiates the connection to the broker. It is non-blocking and
	// returns immediately; use AwaitConnection to wait for the first CONNACK.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	// Publish sends a message and waits for the connection (and, for QoS>0,
	// the acknowledgement). It blocks while the broker is unreachable.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// PublishQueued enqueues a message for delivery and returns immediately.
	// Messages queued while the broker is down are delivered after
	// reconnection, in order. Safe to call from network callbacks.
	PublishQueued(topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers a handler for a topic filter and sends the
	// SUBSCRIBE packet. The subscription is replayed automatically after
	// every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends an UNSUBSCRIBE packet.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the client is connected or ctx is done.
	AwaitConnection(ctx context.Context) error

	// IsConnected reports whether the connection is currently up.
	IsConnected() bool
}
