package nats

import (
	"github.com/nats-io/nats.go"
	"github.com/tehsphinx/relay/pubsub"
)

type message struct {
	msg *nats.Msg
}

var _ pubsub.Delivery = (*message)(nil)

// Subject implements the pubsub.Delivery interface.
func (s message) Subject() string {
	return s.msg.Subject
}

// Data implements the pubsub.Delivery interface.
func (s message) Data() []byte {
	return s.msg.Data
}
