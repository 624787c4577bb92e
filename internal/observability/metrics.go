package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for attribution runs.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.CacheLookup("hit")
type Metrics struct {
	// CacheLookups counts document resolutions by outcome.
	// Labels: result (hit|miss|override|skipped)
	CacheLookups *prometheus.CounterVec

	// FetchDuration measures provider fetch latency in seconds.
	// Labels: provider, status (success|error)
	FetchDuration *prometheus.HistogramVec

	// GenerationAttempts counts individual generator requests.
	// Labels: provider, outcome (success|rate_limited|oversized|transient|fatal)
	GenerationAttempts *prometheus.CounterVec

	// GenerationDuration measures a full Generate call including retries.
	// Labels: provider, model, status (success|error)
	GenerationDuration *prometheus.HistogramVec

	// Truncations counts evidence halvings after oversized requests.
	// Labels: provider
	Truncations *prometheus.CounterVec

	// EvaluationDuration measures one quality evaluation in seconds.
	// Labels: status (success|error|floored)
	EvaluationDuration *prometheus.HistogramVec

	// SourceImpact records the per-document impact values of completed runs.
	SourceImpact prometheus.Histogram

	// Runs counts attribution runs.
	// Labels: status (success|error)
	Runs *prometheus.CounterVec

	// RunDuration measures a full attribution run in seconds.
	RunDuration prometheus.Histogram
}

// NewMetrics creates the attribution metrics and registers them with reg.
// A nil reg creates unregistered collectors, which is useful in tests and
// one-shot CLI runs that never expose metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ablate_cache_lookups_total",
				Help: "Document resolutions by cache outcome",
			},
			[]string{"result"},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ablate_fetch_duration_seconds",
				Help:    "Duration of document fetches in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "status"},
		),

		GenerationAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ablate_generation_attempts_total",
				Help: "Answer generation requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),

		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ablate_generation_duration_seconds",
				Help:    "Duration of answer generation including retries",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model", "status"},
		),

		Truncations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ablate_generation_truncations_total",
				Help: "Evidence truncations after oversized requests",
			},
			[]string{"provider"},
		),

		EvaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ablate_evaluation_duration_seconds",
				Help:    "Duration of quality evaluations in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status"},
		),

		SourceImpact: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ablate_source_impact",
				Help:    "Quality drop attributed to removing a single document",
				Buckets: []float64{-0.5, -0.25, -0.1, 0, 0.1, 0.25, 0.5, 1},
			},
		),

		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ablate_runs_total",
				Help: "Attribution runs by status",
			},
			[]string{"status"},
		),

		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ablate_run_duration_seconds",
				Help:    "Duration of full attribution runs in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}
}

// CacheLookup records one document resolution outcome.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordFetch records one provider fetch.
func (m *Metrics) RecordFetch(provider, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(provider, status).Observe(durationSeconds)
}

// GenerationAttempt records one generator request and its classified outcome.
func (m *Metrics) GenerationAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.GenerationAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordGeneration records a completed Generate call.
func (m *Metrics) RecordGeneration(provider, model, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.GenerationDuration.WithLabelValues(provider, model, status).Observe(durationSeconds)
}

// Truncated records one evidence halving.
func (m *Metrics) Truncated(provider string) {
	if m == nil {
		return
	}
	m.Truncations.WithLabelValues(provider).Inc()
}

// RecordEvaluation records one quality evaluation.
func (m *Metrics) RecordEvaluation(status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.EvaluationDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordRun records a finished attribution run and, on success, its impacts.
func (m *Metrics) RecordRun(status string, durationSeconds float64, impacts []float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(durationSeconds)
	for _, impact := range impacts {
		m.SourceImpact.Observe(impact)
	}
}
