package nats

import "time"

// Logger is the subset of a logger the adapters report dropped deliveries to.
type Logger interface {
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Option configures a subscriber adapter.
type Option func(opt *options)

func getOptions(opts []Option) options {
	opt := options{
		logger:  noopLogger{},
		ackWait: 30 * time.Second,
	}

	for _, o := range opts {
		o(&opt)
	}
	return opt
}

type options struct {
	logger     Logger
	redeliver  bool
	maxDeliver int
	ackWait    time.Duration
}

// WithLogger sets the logger handler failures are reported to.
func WithLogger(log Logger) Option {
	return func(opt *options) {
		opt.logger = log
	}
}

// WithRedelivery makes JetStream subscribers negatively acknowledge a delivery whose
// handler failed, so the server redelivers it up to maxDeliver times in total.
// Core NATS has no redelivery and ignores the option.
func WithRedelivery(maxDeliver int) Option {
	return func(opt *options) {
		opt.redeliver = true
		opt.maxDeliver = maxDeliver
	}
}

// WithAckWait sets how long JetStream waits for an acknowledgment before redelivering.
func WithAckWait(d time.Duration) Option {
	return func(opt *options) {
		if d > 0 {
			opt.ackWait = d
		}
	}
}

type noopLogger struct{}

func (noopLogger) Errorf(string, ...interface{}) {}
func (noopLogger) Warnf(string, ...interface{})  {}
