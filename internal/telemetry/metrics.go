package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for sessions, sweeps and HTTP traffic.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionsIssued   prometheus.Counter
	Validations      *prometheus.CounterVec
	Revocations      *prometheus.CounterVec
	SessionsCleaned  prometheus.Counter
	SweepRuns        *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	SecurityEvents   *prometheus.CounterVec
	SessionLimitHits *prometheus.CounterVec
}

// NewMetrics registers every collector on reg. Pass prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SessionsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "easybaby_refresh_sessions_issued_total",
			Help: "The total number of refresh sessions issued",
		}),
		Validations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "easybaby_refresh_validations_total",
			Help: "The total number of refresh token validations by outcome",
		}, []string{"outcome"}),
		Revocations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "easybaby_refresh_sessions_revoked_total",
			Help: "The total number of refresh sessions revoked by scope",
		}, []string{"scope"}),
		SessionsCleaned: f.NewCounter(prometheus.CounterOpts{
			Name: "easybaby_refresh_sessions_cleaned_total",
			Help: "The total number of expired refresh sessions deleted",
		}),
		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "easybaby_sweeper_runs_total",
			Help: "The total number of sweeper runs by result",
		}, []string{"result"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "easybaby_http_requests_total",
			Help: "The total number of HTTP requests by route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "easybaby_http_request_duration_seconds",
			Help:    "The HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		SecurityEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "easybaby_security_events_total",
			Help: "The total number of security events by type",
		}, []string{"type"}),
		SessionLimitHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "easybaby_session_limit_decisions_total",
			Help: "The total number of logins that hit the session limit by decision",
		}, []string{"decision"}),
	}
}

// Handler serves the metrics in g in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// SessionIssued counts one Generate.
func (m *Metrics) SessionIssued() {
	if m == nil {
		return
	}
	m.SessionsIssued.Inc()
}

// Validation counts one Validate outcome ("ok" or a failure reason).
func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(outcome).Inc()
}

// Revoked adds n revoked sessions under scope (session, subject, family).
func (m *Metrics) Revoked(scope string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Revocations.WithLabelValues(scope).Add(float64(n))
}

// Cleaned adds n deleted expired sessions.
func (m *Metrics) Cleaned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsCleaned.Add(float64(n))
}

// Sweep counts one sweeper run ("ok", "error", "skipped").
func (m *Metrics) Sweep(result string) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(result).Inc()
}

// SecurityEvent counts one emitted security event.
func (m *Metrics) SecurityEvent(eventType string) {
	if m == nil {
		return
	}
	m.SecurityEvents.WithLabelValues(eventType).Inc()
}

// SessionLimit counts one login that reached the session limit, by policy decision.
func (m *Metrics) SessionLimit(decision string) {
	if m == nil {
		return
	}
	m.SessionLimitHits.WithLabelValues(decision).Inc()
}
