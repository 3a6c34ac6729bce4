package metrics

// Metric names reported by publishers and subscribers.
const (
	PublishedTotal     = "relay_published_total"
	PublishFailedTotal = "relay_publish_failed_total"
	PublishLatency     = "relay_publish_latency_seconds"
	ReceivedTotal      = "relay_received_total"
	HandlerErrorsTotal = "relay_handler_errors_total"
	InFlight           = "relay_inflight"
)

// Provider is the metrics sink used by the relay.
// Label values are passed in the order the metric declares them.
type Provider interface {
	IncCounter(name string, labels ...string)
	AddGauge(name string, delta float64, labels ...string)
	Observe(name string, value float64, labels ...string)
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) IncCounter(string, ...string)        {}
func (Noop) AddGauge(string, float64, ...string) {}
func (Noop) Observe(string, float64, ...string)  {}
