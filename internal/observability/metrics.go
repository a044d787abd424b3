package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/upb/authgate/authgate"
	"github.com/upb/authgate/cognito"
)

// BackoffBuckets covers retry delays from 100ms to the 5s default cap.
var BackoffBuckets = []float64{0.1, 0.25, 0.5, 1, 2, 4, 5, 10}

// Metrics holds the sidecar's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	// WaitTotal counts WaitForAuth calls by outcome.
	WaitTotal *prometheus.CounterVec

	// OperationAttempts counts WithAuthRetry attempts by operation and outcome.
	OperationAttempts *prometheus.CounterVec

	// TokenRefreshTotal counts ID token refreshes by outcome.
	TokenRefreshTotal *prometheus.CounterVec

	// BackoffSeconds records the delays slept between retries.
	BackoffSeconds prometheus.Histogram
}

var (
	_ authgate.Recorder        = (*Metrics)(nil)
	_ cognito.RefreshRecorder = (*Metrics)(nil)
)

// NewMetrics creates the collectors on a fresh registry, together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WaitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_wait_total",
				Help: "WaitForAuth calls",
			},
			[]string{"outcome"},
		),
		OperationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_operation_attempts_total",
				Help: "Authenticated operation attempts",
			},
			[]string{"operation", "outcome"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authgate_token_refresh_total",
				Help: "ID token refreshes",
			},
			[]string{"outcome"},
		),
		BackoffSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authgate_backoff_seconds",
				Help:    "Delay between operation retries",
				Buckets: BackoffBuckets,
			},
		),
	}

	m.registry.MustRegister(
		m.WaitTotal,
		m.OperationAttempts,
		m.TokenRefreshTotal,
		m.BackoffSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordWait counts a WaitForAuth call by outcome
func (m *Metrics) RecordWait(outcome string) {
	m.WaitTotal.WithLabelValues(outcome).Inc()
}

// RecordAttempt counts a WithAuthRetry attempt. operation must come from a
// bounded set such as a route pattern.
func (m *Metrics) RecordAttempt(operation, outcome string) {
	m.OperationAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordBackoff observes a retry delay in seconds
func (m *Metrics) RecordBackoff(d time.Duration) {
	m.BackoffSeconds.Observe(d.Seconds())
}

// RecordTokenRefresh counts an ID token refresh by outcome
func (m *Metrics) RecordTokenRefresh(outcome string) {
	m.TokenRefreshTotal.WithLabelValues(outcome).Inc()
}
