// Package bus provides the messaging used by cluster membership and
// heartbeats.
//
// The MessageBus interface covers pub/sub and request/reply over NATS or an
// in-process implementation. A bus is itself something shutdown waits for:
// Drain stops delivery after in-flight messages and Done closes once the
// connection is gone, so it fits shutdown.AddTerminationTask.
package bus

import (
	"context"
	"errors"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrNoResponders   = errors.New("no responders")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Reply is the subject a responder answers on. Empty for plain publishes.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	Subscribe(subject string) (Subscription, error)

	// Request sends a request and waits for the first reply or ctx.
	Request(ctx context.Context, subject string, data []byte) (*Message, error)

	// Drain refuses new subscriptions, lets buffered messages be consumed
	// and then closes the bus. It does not block.
	Drain() error

	// Close shuts down the bus immediately.
	Close() error

	// Done is closed once the bus is closed.
	Done() <-chan struct{}
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Respond answers a request message.
func Respond(b MessageBus, req *Message, data []byte) error {
	if req.Reply == "" {
		return ErrInvalidSubject
	}
	return b.Publish(req.Reply, data)
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateSubject checks if a subject is valid.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	return nil
}
