package relay

import (
	"time"

	"github.com/tehsphinx/relay/internal/metrics"
)

// Option defines an option for configuring publishers and subscribers.
type Option func(opt *options)

func getOptions(opts []Option) options {
	opt := options{
		logger:  noopLogger(),
		metrics: metrics.Noop{},
	}

	for _, o := range opts {
		o(&opt)
	}
	return opt
}

type options struct {
	logger         Logger
	metrics        metrics.Provider
	handler        MessageHandler
	concurrent     bool
	publishTimeout time.Duration
}

// WithLogger sets the logger.
func WithLogger(log Logger) Option {
	return func(opt *options) {
		opt.logger = log
	}
}

// WithMetrics sets the metrics provider.
func WithMetrics(m metrics.Provider) Option {
	return func(opt *options) {
		opt.metrics = m
	}
}

// WithHandler replaces the default LogHandler of a subscriber.
func WithHandler(h MessageHandler) Option {
	return func(opt *options) {
		opt.handler = h
	}
}

// WithConcurrentDelivery lets the broker client run deliveries of a subscriber in parallel.
func WithConcurrentDelivery(concurrent bool) Option {
	return func(opt *options) {
		opt.concurrent = concurrent
	}
}

// WithPublishTimeout bounds every publish. Zero leaves the caller's context untouched.
func WithPublishTimeout(d time.Duration) Option {
	return func(opt *options) {
		opt.publishTimeout = d
	}
}
