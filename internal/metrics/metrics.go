// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pegateway"

// Registry holds the gateway collectors. A nil *Registry is a no-op.
type Registry struct {
	Requests        *prometheus.CounterVec
	SessionDuration *prometheus.HistogramVec
	ActiveSessions  *prometheus.GaugeVec
	RateLimited     *prometheus.CounterVec
}

// NewRegistry creates and registers all collectors with reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	f := promauto.With(reg)
	return &Registry{
		Requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Gateway requests by target service and outcome.",
			},
			[]string{"service", "outcome", "status"},
		),
		SessionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_session_seconds",
				Help:      "Duration of backend sessions, connect to close.",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "outcome"},
		),
		ActiveSessions: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Backend sessions currently open.",
			},
			[]string{"service"},
		),
		RateLimited: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Commands rejected by the per-service rate limit.",
			},
			[]string{"service"},
		),
	}
}

func (r *Registry) IncRequest(service, outcome, status string) {
	if r == nil {
		return
	}
	r.Requests.WithLabelValues(service, outcome, status).Inc()
}

func (r *Registry) ObserveSession(service, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.SessionDuration.WithLabelValues(service, outcome).Observe(d.Seconds())
}

// SessionStarted increments the active gauge and returns its matching decrement.
func (r *Registry) SessionStarted(service string) func() {
	if r == nil {
		return func() {}
	}
	g := r.ActiveSessions.WithLabelValues(service)
	g.Inc()
	return g.Dec
}

func (r *Registry) IncRateLimited(service string) {
	if r == nil {
		return
	}
	r.RateLimited.WithLabelValues(service).Inc()
}
