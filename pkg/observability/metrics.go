package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects agent counters and latencies.
//
//	m := observability.NewMetrics(prometheus.NewRegistry())
//	m.ToolExecuted("get_invoice", "success", time.Since(start))
type Metrics struct {
	// Labels: provider, model, status (success|error|timeout)
	BackendRequests *prometheus.CounterVec
	// Labels: provider, model
	BackendDuration *prometheus.HistogramVec

	// Labels: tool_name, status (success|error|not_found)
	ToolExecutions *prometheus.CounterVec
	// Labels: tool_name
	ToolDuration *prometheus.HistogramVec
	// Labels: tool_name
	DryRuns *prometheus.CounterVec
	// Labels: tool_name
	DedupHits *prometheus.CounterVec

	// Labels: adapter (roundtrip|streaming|fallback), outcome
	Sessions *prometheus.CounterVec
	// Labels: adapter
	SessionRounds *prometheus.HistogramVec
	ActiveSessions prometheus.Gauge

	FallbackActivations prometheus.Counter
}

// NewMetrics registers all collectors on reg. Passing nil uses a private
// registry, which keeps tests independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docagent",
			Name:      "backend_requests_total",
			Help:      "Model backend requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),
		BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docagent",
			Name:      "backend_request_duration_seconds",
			Help:      "Model backend request latency.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),
		ToolExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docagent",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and status.",
		}, []string{"tool_name", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docagent",
			Name:      "tool_execution_duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool_name"}),
		DryRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docagent",
			Name:      "tool_dry_runs_total",
			Help:      "Write tools executed inside a discarded scope.",
		}, []string{"tool_name"}),
		DedupHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docagent",
			Name:      "tool_dedup_hits_total",
			Help:      "Tool calls answered from the dedup cache.",
		}, []string{"tool_name"}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docagent",
			Name:      "sessions_total",
			Help:      "Finished sessions by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		SessionRounds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "docagent",
			Name:      "session_rounds",
			Help:      "Rounds or action cycles per session.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}, []string{"adapter"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "docagent",
			Name:      "active_sessions",
			Help:      "Sessions currently running.",
		}),
		FallbackActivations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "docagent",
			Name:      "fallback_activations_total",
			Help:      "Sessions rerun on the hand-rolled client after an internal client error.",
		}),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns metrics registered on the prometheus default registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// The helpers below accept a nil receiver so callers can leave metrics unset.

func (m *Metrics) BackendRequest(provider, model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(provider, model, status).Inc()
	m.BackendDuration.WithLabelValues(provider, model).Observe(d.Seconds())
}

func (m *Metrics) ToolExecuted(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

func (m *Metrics) DryRun(tool string) {
	if m == nil {
		return
	}
	m.DryRuns.WithLabelValues(tool).Inc()
}

func (m *Metrics) DedupHit(tool string) {
	if m == nil {
		return
	}
	m.DedupHits.WithLabelValues(tool).Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionFinished(adapter, outcome string, rounds int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues(adapter, outcome).Inc()
	m.SessionRounds.WithLabelValues(adapter).Observe(float64(rounds))
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.FallbackActivations.Inc()
}
