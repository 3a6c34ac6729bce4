package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProm(t *testing.T) {
	p := NewProm()

	p.IncCounter(PublishedTotal, "t")
	p.IncCounter(PublishedTotal, "t")
	p.IncCounter(PublishFailedTotal, "t", "send_rejected")
	p.IncCounter(ReceivedTotal, "t")
	p.IncCounter(HandlerErrorsTotal, "t")
	p.AddGauge(InFlight, 1, "t")
	p.Observe(PublishLatency, 0.01, "t")

	assert.Equal(t, 2.0, testutil.ToFloat64(p.Published.WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.PublishFailed.WithLabelValues("t", "send_rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.Received.WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.HandlerErrors.WithLabelValues("t")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.InFlight.WithLabelValues("t")))

	// mismatching labels and unknown names are ignored
	p.IncCounter(PublishFailedTotal, "t")
	p.IncCounter("unknown_total")
	p.AddGauge("unknown", 1)
	p.Observe("unknown", 1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `relay_published_total{topic="t"} 2`)
	assert.Contains(t, rec.Body.String(), "relay_publish_latency_seconds_bucket")
}
