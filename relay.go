// Package relay forwards text payloads to a broker topic and processes what the broker
// delivers back from it. Publisher and Subscriber only share the topic name; the broker
// behind them is anything implementing the interfaces of the `pubsub` package, such as
// the NATS and JetStream adapters in `pubsub/nats` or the in-process broker in `pubsub/memory`.
package relay

import (
	"github.com/sirupsen/logrus"
	"github.com/tehsphinx/relay/pubsub"
)

const (
	// DefaultTopic is the topic used when none is configured.
	DefaultTopic = "relay.messages"
	// DefaultGroup is the consumer group used when none is configured.
	DefaultGroup = "relay-group"
)

// NewPublisher creates a publisher that sends to topic.
func NewPublisher(pub pubsub.Publisher, topic string, opts ...Option) *Publisher {
	opt := getOptions(opts)

	return &Publisher{
		pub:     pub,
		topic:   topic,
		log:     opt.logger.WithField("topic", topic),
		metrics: opt.metrics,
		timeout: opt.publishTimeout,
	}
}

// NewSubscriber creates a subscriber for topic registering under the consumer group.
// Without WithHandler every delivery is passed to LogHandler.
func NewSubscriber(sub pubsub.Subscriber, topic, group string, opts ...Option) *Subscriber {
	opt := getOptions(opts)
	log := opt.logger.WithFields(logrus.Fields{
		"topic": topic,
		"group": group,
	})

	handler := opt.handler
	if handler == nil {
		handler = LogHandler(log)
	}

	return &Subscriber{
		sub:        sub,
		topic:      topic,
		group:      group,
		log:        log,
		metrics:    opt.metrics,
		handler:    handler,
		concurrent: opt.concurrent,
	}
}
