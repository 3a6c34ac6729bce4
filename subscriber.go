package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/tehsphinx/relay/internal/metrics"
	"github.com/tehsphinx/relay/pubsub"
)

// State is the registration state of a Subscriber.
type State int32

// Subscriber states. A subscriber moves from unregistered to registered once and ends closed.
const (
	StateUnregistered State = iota
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscriber registers a handler for a topic under a consumer group.
type Subscriber struct {
	sub        pubsub.Subscriber
	topic      string
	group      string
	log        Logger
	metrics    metrics.Provider
	handler    MessageHandler
	concurrent bool

	m            sync.Mutex
	state        State
	subscription pubsub.Subscription
}

// Register subscribes to the topic and waits until the broker knows about the
// subscription. It may only be called once.
func (s *Subscriber) Register(ctx context.Context) error {
	s.m.Lock()
	defer s.m.Unlock()

	switch s.state {
	case StateRegistered:
		return ErrAlreadyRegistered
	case StateClosed:
		return ErrClosed
	}
	if r := ctx.Err(); r != nil {
		return r
	}

	subscribe := s.sub.Subscribe
	if s.concurrent {
		subscribe = s.sub.SubscribeAsync
	}

	sub, err := subscribe(s.topic, s.group, s.deliver)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", s.topic, err)
	}
	if r := s.sub.Flush(); r != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription to %v: %w", s.topic, r)
	}

	s.subscription = sub
	s.state = StateRegistered
	s.log.Infof("subscribed: subject => %v, group => %v", s.topic, s.group)
	return nil
}

// OnMessage processes one delivered body with the configured handler.
func (s *Subscriber) OnMessage(ctx context.Context, body string) error {
	return s.handler(ctx, body)
}

// State returns the registration state.
func (s *Subscriber) State() State {
	s.m.Lock()
	defer s.m.Unlock()

	return s.state
}

// Close removes the subscription from the broker. A closed subscriber cannot be registered again.
// If the broker refuses the unsubscribe the subscriber stays registered and Close can be retried.
func (s *Subscriber) Close() error {
	s.m.Lock()
	defer s.m.Unlock()

	if s.state != StateRegistered {
		s.state = StateClosed
		return nil
	}

	if r := s.subscription.Unsubscribe(); r != nil {
		return fmt.Errorf("failed to unsubscribe from %v: %w", s.topic, r)
	}
	s.subscription = nil
	s.state = StateClosed
	s.log.Infof("un-subscribed: subject => %v", s.topic)
	return nil
}

func (s *Subscriber) deliver(ctx context.Context, msg pubsub.Delivery) error {
	s.metrics.IncCounter(metrics.ReceivedTotal, s.topic)
	s.metrics.AddGauge(metrics.InFlight, 1, s.topic)
	defer s.metrics.AddGauge(metrics.InFlight, -1, s.topic)

	if r := s.OnMessage(ctx, string(msg.Data())); r != nil {
		s.metrics.IncCounter(metrics.HandlerErrorsTotal, s.topic)
		return r
	}
	return nil
}
