package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/tehsphinx/relay/pubsub"
)

// EnsureStream creates the named stream for subjects unless it already exists. An existing
// stream is extended with the subjects it does not cover yet.
func EnsureStream(js nats.JetStreamContext, name string, subjects ...string) error {
	info, err := js.StreamInfo(name)
	if err == nil {
		return extendStream(js, info.Config, subjects)
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %v: %w", name, err)
	}

	if _, r := js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: subjects,
	}); r != nil {
		return fmt.Errorf("failed to create stream %v: %w", name, r)
	}
	return nil
}

func extendStream(js nats.JetStreamContext, cfg nats.StreamConfig, subjects []string) error {
	var missing []string
	for _, subj := range subjects {
		if !coveredBy(subj, cfg.Subjects) {
			missing = append(missing, subj)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	cfg.Subjects = append(append([]string(nil), cfg.Subjects...), missing...)
	if _, err := js.UpdateStream(&cfg); err != nil {
		return fmt.Errorf("failed to add subjects %v to stream %v: %w", missing, cfg.Name, err)
	}
	return nil
}

// coveredBy reports whether one of the stream filters matches every subject subj can match.
func coveredBy(subj string, filters []string) bool {
	for _, f := range filters {
		if subjectCovers(f, subj) {
			return true
		}
	}
	return false
}

func subjectCovers(filter, subj string) bool {
	ft := strings.Split(filter, ".")
	st := strings.Split(subj, ".")
	for i, tok := range ft {
		if tok == ">" {
			return len(st) > i
		}
		if i >= len(st) {
			return false
		}
		if tok == "*" {
			if st[i] == ">" {
				return false
			}
			continue
		}
		if tok != st[i] {
			return false
		}
	}
	return len(ft) == len(st)
}

// JetStreamPublisher returns a JetStream wrapper implementing the pubsub.Publisher interface.
// Publish returns once the stream has stored the message.
func JetStreamPublisher(conn *nats.Conn, js nats.JetStreamContext) pubsub.Publisher {
	return &jsPublisher{conn: conn, js: js}
}

type jsPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Publish implements the pubsub.Publisher interface.
func (s *jsPublisher) Publish(ctx context.Context, msg pubsub.Message) (pubsub.Ack, error) {
	if r := ctx.Err(); r != nil {
		return pubsub.Ack{}, pubsub.Unavailable(r)
	}

	ack, err := s.js.PublishMsg(&nats.Msg{
		Subject: msg.Subject,
		Data:    msg.Data,
	}, nats.Context(ctx))
	if err != nil {
		return pubsub.Ack{}, classify(err, s.conn.IsConnected())
	}

	return pubsub.Ack{
		Stream:    ack.Stream,
		Sequence:  ack.Sequence,
		Persisted: true,
	}, nil
}

// JetStreamSubscriber returns a JetStream wrapper implementing the pubsub.Subscriber interface.
// The queue name doubles as the durable consumer name, so group members share one consumer.
func JetStreamSubscriber(conn *nats.Conn, js nats.JetStreamContext, opts ...Option) pubsub.Subscriber {
	return &jsSubscriber{
		conn: conn,
		js:   js,
		opt:  getOptions(opts),
	}
}

type jsSubscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	opt  options
}

// Subscribe implements the pubsub.Subscriber interface.
func (s *jsSubscriber) Subscribe(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return s.subscribe(subject, queue, func(msg *nats.Msg) {
		s.dispatch(msg, handler)
	})
}

// SubscribeAsync implements the pubsub.Subscriber interface.
func (s *jsSubscriber) SubscribeAsync(subject, queue string, handler pubsub.Handler) (pubsub.Subscription, error) {
	return s.subscribe(subject, queue, func(msg *nats.Msg) {
		go s.dispatch(msg, handler)
	})
}

// Flush implements the pubsub.Subscriber interface.
func (s *jsSubscriber) Flush() error {
	if r := s.conn.Flush(); r != nil {
		return classify(r, s.conn.IsConnected())
	}
	return nil
}

func (s *jsSubscriber) subscribe(subject, queue string, cb nats.MsgHandler) (pubsub.Subscription, error) {
	subOpts := []nats.SubOpt{
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(s.opt.ackWait),
	}
	if s.opt.redeliver && s.opt.maxDeliver > 0 {
		subOpts = append(subOpts, nats.MaxDeliver(s.opt.maxDeliver))
	}

	sub, err := s.js.QueueSubscribe(subject, queue, cb, subOpts...)
	if err != nil {
		return nil, classify(err, s.conn.IsConnected())
	}
	return sub, nil
}

func (s *jsSubscriber) dispatch(msg *nats.Msg, handler pubsub.Handler) {
	r := pubsub.Recover(func() error {
		return handler(context.Background(), message{msg: msg})
	})
	if r == nil {
		s.ack(msg)
		return
	}

	if !s.opt.redeliver {
		s.opt.logger.Errorf("jetstream: dropping message on %v: %v", msg.Subject, r)
		s.ack(msg)
		return
	}

	s.opt.logger.Warnf("jetstream: handler failed on %v, requesting redelivery: %v", msg.Subject, r)
	if err := msg.Nak(); err != nil {
		s.opt.logger.Errorf("jetstream: failed to nak message on %v: %v", msg.Subject, err)
	}
}

func (s *jsSubscriber) ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		s.opt.logger.Errorf("jetstream: failed to ack message on %v: %v", msg.Subject, err)
	}
}
