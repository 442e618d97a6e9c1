// Package monitoring exposes the daemon's Prometheus metrics and the
// gin middleware that feeds the HTTP ones.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is a valid
// no-op collector, so components record unconditionally.
type Metrics struct {
	// Engine metrics
	Evaluations  *prometheus.CounterVec
	PolicyLoads  *prometheus.CounterVec
	LoadDuration prometheus.Histogram
	Fetches      *prometheus.CounterVec

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics registers the collector set on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg; tests pass a fresh registry so
// repeated construction never collides.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		Evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyd_evaluations_total",
				Help: "Total number of security evaluations by verdict",
			},
			[]string{"verdict"},
		),
		PolicyLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyd_policy_loads_total",
				Help: "Total number of policy file loads by outcome",
			},
			[]string{"outcome"},
		),
		LoadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "policyd_policy_load_seconds",
				Help:    "Policy file load duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		Fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyd_fetches_total",
				Help: "Total number of policy fetches by scheme and outcome",
			},
			[]string{"scheme", "outcome"},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "policyd_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "policyd_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "policyd_sessions_active",
				Help: "Number of active player sessions",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "policyd_ws_connections",
				Help: "Number of active event stream connections",
			},
		),

		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "policyd_uptime_seconds",
				Help: "Daemon uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// updateUptime continuously updates the uptime metric.
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// RecordEvaluation records one evaluation verdict.
func (m *Metrics) RecordEvaluation(verdict string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(verdict).Inc()
}

// RecordPolicyLoad records one policy file load.
func (m *Metrics) RecordPolicyLoad(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PolicyLoads.WithLabelValues(outcome).Inc()
	m.LoadDuration.Observe(duration.Seconds())
}

// RecordFetch records one transport fetch.
func (m *Metrics) RecordFetch(scheme, outcome string) {
	if m == nil {
		return
	}
	m.Fetches.WithLabelValues(scheme, outcome).Inc()
}

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetSessionsActive sets the active session count.
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// IncWSConnections increments event stream connections.
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements event stream connections.
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
