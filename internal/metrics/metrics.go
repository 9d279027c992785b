// Package metrics exposes relay counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zhouzirui/mood-coach/backend/internal/errs"
)

const namespace = "relay"

// Metrics owns a private registry so tests can create as many instances as they need.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry         *prometheus.Registry
	requests         *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
	activeStreams    prometheus.Gauge
	pollBuffers      prometheus.Gauge
}

// New registers the relay collectors plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Relay requests by transport and the state they reached.",
		}, []string{"transport", "state"}),
		upstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream call latency by mode and outcome.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 9, 15, 30, 60},
		}, []string{"mode", "outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Streams currently relaying upstream deltas.",
		}),
		pollBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "poll_buffers",
			Help:      "Poll buffers currently held in memory.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.upstreamDuration,
		m.activeStreams,
		m.pollBuffers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordState counts a request entering a state.
func (m *Metrics) RecordState(transport, state string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(transport, state).Inc()
}

// ObserveUpstream records how long an upstream call took and how it ended.
func (m *Metrics) ObserveUpstream(mode string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	m.upstreamDuration.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
}

// StreamStarted increments the active stream gauge.
func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamFinished decrements the active stream gauge.
func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// SetPollBuffers reports the number of live poll buffers.
func (m *Metrics) SetPollBuffers(n int) {
	if m == nil {
		return
	}
	m.pollBuffers.Set(float64(n))
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
