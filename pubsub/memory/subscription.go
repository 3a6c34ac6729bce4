package memory

import (
	"context"
	"sync"

	"github.com/tehsphinx/relay/pubsub"
)

type delivery struct {
	subject string
	data    []byte
}

var _ pubsub.Delivery = delivery{}

// Subject implements the pubsub.Delivery interface.
func (d delivery) Subject() string {
	return d.subject
}

// Data implements the pubsub.Delivery interface.
func (d delivery) Data() []byte {
	return d.data
}

type subscription struct {
	broker  *Broker
	id      int
	subject string
	queue   string
	handler pubsub.Handler
	async   bool

	ch       chan delivery
	done     chan struct{}
	stopOnce sync.Once
}

var _ pubsub.Subscription = (*subscription)(nil)

// Unsubscribe implements the pubsub.Subscription interface.
func (s *subscription) Unsubscribe() error {
	s.stop()
	s.broker.remove(s)
	return nil
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *subscription) enqueue(ctx context.Context, d delivery) error {
	select {
	case s.ch <- d:
		return nil
	case <-s.done:
		// subscriber left; the message is lost for its group like on a real broker
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case d := <-s.ch:
			if s.async {
				go s.deliver(d)
				continue
			}
			s.deliver(d)
		}
	}
}

func (s *subscription) deliver(d delivery) {
	log := s.broker.log
	maxDeliver := s.broker.maxDeliver

	for attempt := 1; ; attempt++ {
		r := pubsub.Recover(func() error {
			return s.handler(context.Background(), d)
		})
		if r == nil {
			return
		}
		if attempt >= maxDeliver {
			log.Errorf("memory: dropping message on %v after %d attempt(s): %v", d.subject, attempt, r)
			return
		}
		log.Warnf("memory: handler failed on %v, redelivering: %v", d.subject, r)
	}
}
