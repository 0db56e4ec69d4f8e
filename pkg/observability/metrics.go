package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the login pipeline.
type Metrics struct {
	LoginInitiatedTotal *prometheus.CounterVec
	LoginCompletedTotal *prometheus.CounterVec
	ValidationFailures  *prometheus.CounterVec
	ValidationDuration  *prometheus.HistogramVec
	ProvisioningTotal   *prometheus.CounterVec
	SessionsIssuedTotal prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all metrics on the given registry (a new
// one when nil).
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		LoginInitiatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_login_initiated_total",
				Help: "Sign-in requests issued, by provider",
			},
			[]string{"provider"},
		),
		LoginCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_login_completed_total",
				Help: "Login attempts finished, by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_validation_failures_total",
				Help: "Response validation failures, by category",
			},
			[]string{"category"},
		),
		ValidationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "samlgate_validation_duration_seconds",
				Help:    "Response validation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		ProvisioningTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "samlgate_provisioning_total",
				Help: "Provisioning calls, by result (created, existing, failed)",
			},
			[]string{"result"},
		),
		SessionsIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "samlgate_sessions_issued_total",
				Help: "One-time login tokens issued",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.LoginInitiatedTotal,
		m.LoginCompletedTotal,
		m.ValidationFailures,
		m.ValidationDuration,
		m.ProvisioningTotal,
		m.SessionsIssuedTotal,
	)
	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
