// Package metrics exposes Prometheus collectors for the execution engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics is valid and records
// nothing.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := metrics.New(reg)
//	m.ExecutionFinished("process", "completed", "", time.Since(start))
type Metrics struct {
	// Executions counts finished executions.
	// Labels: backend (process|sdk), status (completed|failed), reason
	Executions *prometheus.CounterVec

	// ExecutionDuration measures execution wall time in seconds.
	// Labels: backend
	ExecutionDuration *prometheus.HistogramVec

	// Fallbacks counts switches to the alternate backend.
	// Labels: from, to, reason
	Fallbacks *prometheus.CounterVec

	// ToolDecisions counts tool policy decisions.
	// Labels: tool, decision (allow|deny)
	ToolDecisions *prometheus.CounterVec

	// CostUSD accumulates committed cost.
	CostUSD prometheus.Counter

	// InFlight is the number of running executions.
	InFlight prometheus.Gauge

	// Demotions counts primary backend demotions.
	// Labels: backend
	Demotions *prometheus.CounterVec

	// SessionsExpired counts sessions removed by the sweep.
	SessionsExpired prometheus.Counter

	// RateLimited counts HTTP requests refused by the per-user gate.
	RateLimited prometheus.Counter

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg. When reg is also a
// Gatherer, Handler serves it.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Executions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudebridge_executions_total",
				Help: "Finished executions by backend, status and failure reason",
			},
			[]string{"backend", "status", "reason"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claudebridge_execution_duration_seconds",
				Help:    "Execution wall time in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"backend"},
		),
		Fallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudebridge_fallbacks_total",
				Help: "Switches to the alternate backend",
			},
			[]string{"from", "to", "reason"},
		),
		ToolDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudebridge_tool_decisions_total",
				Help: "Tool policy decisions by tool and outcome",
			},
			[]string{"tool", "decision"},
		),
		CostUSD: f.NewCounter(prometheus.CounterOpts{
			Name: "claudebridge_cost_usd_total",
			Help: "Committed execution cost in USD",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "claudebridge_executions_in_flight",
			Help: "Executions currently running",
		}),
		Demotions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claudebridge_backend_demotions_total",
				Help: "Times a primary backend was skipped as unhealthy",
			},
			[]string{"backend"},
		),
		SessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Name: "claudebridge_sessions_expired_total",
			Help: "Sessions removed by the expiry sweep",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "claudebridge_rate_limited_total",
			Help: "Requests refused by the per-user rate gate",
		}),
	}
	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) ExecutionStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) ExecutionFinished(backend, status, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.InFlight.Dec()
	m.Executions.WithLabelValues(backend, status, reason).Inc()
	m.ExecutionDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (m *Metrics) Fallback(from, to, reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(from, to, reason).Inc()
}

func (m *Metrics) ToolDecision(tool string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.ToolDecisions.WithLabelValues(tool, decision).Inc()
}

func (m *Metrics) Cost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.CostUSD.Add(usd)
}

func (m *Metrics) Demoted(backend string) {
	if m == nil {
		return
	}
	m.Demotions.WithLabelValues(backend).Inc()
}

func (m *Metrics) Expired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsExpired.Add(float64(n))
}

func (m *Metrics) Limited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
