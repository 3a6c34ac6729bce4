package pubsub

import (
	"context"
)

// Subscriber registers handlers with a broker.
// The queue argument is the consumer group: every group receives each message once.
type Subscriber interface {
	Subscribe(subject, queue string, handler Handler) (Subscription, error)
	SubscribeAsync(subject, queue string, handler Handler) (Subscription, error)
	Flush() error
}

// Handler processes a single delivery. A returned error is handed back to the broker
// adapter, which applies its redelivery policy.
type Handler func(ctx context.Context, msg Delivery) error

// Delivery is a message as handed out by the broker.
type Delivery interface {
	Subject() string
	Data() []byte
}

type Subscription interface {
	Unsubscribe() error
}
