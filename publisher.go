package relay

import (
	"context"
	"time"

	"github.com/tehsphinx/relay/internal/metrics"
	"github.com/tehsphinx/relay/pubsub"
)

// Publisher forwards text payloads to a fixed topic. It is safe for concurrent use.
type Publisher struct {
	pub     pubsub.Publisher
	topic   string
	log     Logger
	metrics metrics.Provider
	timeout time.Duration
}

// PublishResult acknowledges a publish. Unless Persisted is set it only means the
// broker client accepted the message for sending, not that anybody received it.
type PublishResult struct {
	Topic     string
	Stream    string
	Sequence  uint64
	Persisted bool
}

// Topic returns the topic the publisher sends to.
func (s *Publisher) Topic() string {
	return s.topic
}

// Publish hands body to the broker unmodified. Empty bodies are published as is.
// Failures are returned as *Error matching ErrBrokerUnavailable or ErrSendRejected.
// There is no retry.
func (s *Publisher) Publish(ctx context.Context, body string) (PublishResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	ack, err := s.pub.Publish(ctx, pubsub.Message{
		Subject: s.topic,
		Data:    []byte(body),
	})
	if err != nil {
		pubErr := newError(s.topic, err)
		s.metrics.IncCounter(metrics.PublishFailedTotal, s.topic, pubErr.Kind.String())
		s.log.WithField("kind", pubErr.Kind.String()).Errorf("Message not sent: %v", err)
		return PublishResult{}, pubErr
	}

	s.metrics.IncCounter(metrics.PublishedTotal, s.topic)
	s.metrics.Observe(metrics.PublishLatency, time.Since(start).Seconds(), s.topic)
	s.log.WithField("body", body).Infof("Message sent: %s", body)

	return PublishResult{
		Topic:     s.topic,
		Stream:    ack.Stream,
		Sequence:  ack.Sequence,
		Persisted: ack.Persisted,
	}, nil
}
