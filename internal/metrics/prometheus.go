package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ Provider = (*Prom)(nil)

// Prom is a Provider backed by a private Prometheus registry.
type Prom struct {
	reg *prometheus.Registry

	Published     *prometheus.CounterVec
	PublishFailed *prometheus.CounterVec
	Latency       *prometheus.HistogramVec
	Received      *prometheus.CounterVec
	HandlerErrors *prometheus.CounterVec
	InFlight      *prometheus.GaugeVec
}

// NewProm registers the relay metrics and the Go and process collectors.
func NewProm() *Prom {
	reg := prometheus.NewRegistry()
	p := &Prom{
		reg: reg,
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: PublishedTotal, Help: "Messages handed to the broker",
		}, []string{"topic"}),
		PublishFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: PublishFailedTotal, Help: "Publish attempts that failed, by error kind",
		}, []string{"topic", "kind"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: PublishLatency, Help: "Time until the broker client accepted a message",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ReceivedTotal, Help: "Messages delivered to the subscriber",
		}, []string{"topic"}),
		HandlerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: HandlerErrorsTotal, Help: "Deliveries whose handler returned an error",
		}, []string{"topic"}),
		InFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: InFlight, Help: "Deliveries currently being processed",
		}, []string{"topic"}),
	}
	reg.MustRegister(
		p.Published, p.PublishFailed, p.Latency, p.Received, p.HandlerErrors, p.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

// Registry returns the registry the metrics live in.
func (p *Prom) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler { return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}) }

// IncCounter implements Provider. Unknown names and label mismatches are ignored.
func (p *Prom) IncCounter(name string, labels ...string) {
	var vec *prometheus.CounterVec
	switch name {
	case PublishedTotal:
		vec = p.Published
	case PublishFailedTotal:
		vec = p.PublishFailed
	case ReceivedTotal:
		vec = p.Received
	case HandlerErrorsTotal:
		vec = p.HandlerErrors
	default:
		return
	}
	if c, err := vec.GetMetricWithLabelValues(labels...); err == nil {
		c.Inc()
	}
}

// AddGauge implements Provider.
func (p *Prom) AddGauge(name string, delta float64, labels ...string) {
	if name != InFlight {
		return
	}
	if g, err := p.InFlight.GetMetricWithLabelValues(labels...); err == nil {
		g.Add(delta)
	}
}

// Observe implements Provider.
func (p *Prom) Observe(name string, value float64, labels ...string) {
	if name != PublishLatency {
		return
	}
	if o, err := p.Latency.GetMetricWithLabelValues(labels...); err == nil {
		o.Observe(value)
	}
}
