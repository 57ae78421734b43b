package mqtt

import "context"

// Client is the subset of broker operations the agents depend on, so tests
// can substitute an in-memory fake
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()

	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topics ...string) error
	Publish(topic string, qos byte, retained bool, payload []byte) error

	IsConnected() bool
}

// MessageHandler is a callback function for handling incoming MQTT messages.
// Handlers run on paho's ordered router goroutine and must not block; slow
// work belongs on a separate worker.
type MessageHandler func(Message)

// Message represents an MQTT message
type Message interface {
	Topic() string
	Payload() []byte
	Ack()
}
