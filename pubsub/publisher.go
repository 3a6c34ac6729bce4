package pubsub

import "context"

// Publisher hands messages to a broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) (Ack, error)
}
