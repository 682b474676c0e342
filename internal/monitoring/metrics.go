package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics manages the Prometheus metrics for the rate-limiting engine.
type Metrics struct {
	Decisions       *prometheus.CounterVec
	EvaluateLatency *prometheus.HistogramVec
	StoreErrors     *prometheus.CounterVec
	DegradedRules   prometheus.Gauge
	KeysReset       prometheus.Counter

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaflow_decisions_total",
				Help: "Total number of rate limit decisions.",
			},
			[]string{"rule", "outcome"},
		),
		EvaluateLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotaflow_evaluate_latency_seconds",
				Help:    "Latency of rate limit evaluations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"rule"},
		),
		StoreErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaflow_store_errors_total",
				Help: "Total number of quota store operational errors.",
			},
			[]string{"backend"},
		),
		DegradedRules: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "quotaflow_degraded_rules",
				Help: "Number of rules currently served by the local store fallback.",
			},
		),
		KeysReset: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quotaflow_keys_reset_total",
				Help: "Total number of manually reset throttle keys.",
			},
		),
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotaflow_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotaflow_http_request_duration_seconds",
				Help:    "Duration of HTTP requests.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordDecision records one evaluation outcome for a rule.
func (m *Metrics) RecordDecision(rule string, allowed bool, duration time.Duration) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.Decisions.WithLabelValues(rule, outcome).Inc()
	m.EvaluateLatency.WithLabelValues(rule).Observe(duration.Seconds())
}

// RecordStoreError records a quota store operational error.
func (m *Metrics) RecordStoreError(backend string) {
	m.StoreErrors.WithLabelValues(backend).Inc()
}
