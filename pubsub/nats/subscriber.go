package nats

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/tehsphinx/relay/pubsub"
)

// Subscriber returns a NATS wrapper implementing the pubsub.Subscriber interface.
// Queue subscriptions map consumer groups onto NATS queue groups. A failed handler
// cannot be redelivered by core NATS; the message is logged and dropped.
func Subscriber(nats *nats.Conn, opts ...Option) pubsub.Subscriber {
	return &subscriber{
		nats: nats,
		opt:  getOptions(opts),
	}
}

type subscriber struct {
	nats *nats.Conn
	opt  options
}

// Subscribe implements the pubsub.Subscriber interface.
func (s *subscriber) Subscribe(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return s.subscribe(subject, queue, func(msg *nats.Msg) {
		s.dispatch(msg, handler)
	})
}

// SubscribeAsync implements the pubsub.Subscriber interface.
func (s *subscriber) SubscribeAsync(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return s.subscribe(subject, queue, func(msg *nats.Msg) {
		go s.dispatch(msg, handler)
	})
}

// Flush implements the pubsub.Subscriber interface.
func (s *subscriber) Flush() error {
	if r := s.nats.Flush(); r != nil {
		return classify(r, s.nats.IsConnected())
	}
	return nil
}

func (s *subscriber) subscribe(subject, queue string, cb nats.MsgHandler) (pubsub.Subscription, error) {
	sub, err := s.nats.QueueSubscribe(subject, queue, cb)
	if err != nil {
		return nil, classify(err, s.nats.IsConnected())
	}
	return sub, nil
}

func (s *subscriber) dispatch(msg *nats.Msg, handler pubsub.Handler) {
	if r := pubsub.Recover(func() error {
		return handler(context.Background(), message{msg: msg})
	}); r != nil {
		s.opt.logger.Errorf("nats: dropping message on %v: %v", msg.Subject, r)
	}
}
