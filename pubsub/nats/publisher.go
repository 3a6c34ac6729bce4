package nats

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/tehsphinx/relay/pubsub"
)

// Publisher returns a NATS wrapper implementing the pubsub.Publisher interface.
// Core NATS does not store messages: a nil error means the client accepted the send.
func Publisher(nats *nats.Conn) pubsub.Publisher {
	return &publisher{nats: nats}
}

type publisher struct {
	nats *nats.Conn
}

// Publish implements the pubsub.Publisher interface.
func (s *publisher) Publish(ctx context.Context, msg pubsub.Message) (pubsub.Ack, error) {
	if r := ctx.Err(); r != nil {
		return pubsub.Ack{}, pubsub.Unavailable(r)
	}

	if r := s.nats.PublishMsg(&nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
	}); r != nil {
		return pubsub.Ack{}, classify(r, s.nats.IsConnected())
	}
	return pubsub.Ack{}, nil
}
