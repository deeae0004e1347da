package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/stablecall/internal/ir"
)

const metricsNamespace = "stablecall"

// Metrics counts audit events and proxy calls in its own registry.
//
// It is a Sink for events and a call observer for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	// EventsTotal counts committed events. Labels: kind.
	EventsTotal *prometheus.CounterVec

	// CallsTotal counts proxy calls. Labels: entry, outcome (ok or an error code).
	CallsTotal *prometheus.CounterVec

	// CallDurationSeconds measures proxy calls including commit. Labels: entry.
	CallDurationSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers every metric on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_total",
			Help:      "Committed audit events by kind",
		}, []string{"kind"}),
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "calls_total",
			Help:      "Proxy calls by entry point and outcome",
		}, []string{"entry", "outcome"}),
		CallDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "call_duration_seconds",
			Help:      "Proxy call latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"entry"}),
	}
}

// Handle implements Sink.
func (m *Metrics) Handle(_ context.Context, ev ir.Event) error {
	m.EventsTotal.WithLabelValues(string(ev.Kind)).Inc()
	return nil
}

// ObserveCall records one finished proxy call. outcome is "ok" or the
// error code the call failed with.
func (m *Metrics) ObserveCall(entry, outcome string, elapsed time.Duration) {
	m.CallsTotal.WithLabelValues(entry, outcome).Inc()
	m.CallDurationSeconds.WithLabelValues(entry).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
