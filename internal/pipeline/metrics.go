package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Unit outcome label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Sink label values.
const (
	SinkFacts = "facts"
	SinkIndex = "index"
)

// Metrics holds the pipeline's Prometheus collectors. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	units         *prometheus.CounterVec
	sinkFailures  *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		units: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpulse_units_total",
			Help: "Processing units by outcome.",
		}, []string{"outcome"}),
		sinkFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpulse_sink_failures_total",
			Help: "Persist failures by sink.",
		}, []string{"sink"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockpulse_stage_duration_seconds",
			Help:    "Enrichment stage latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stockpulse_runs_total",
			Help: "Pipeline runs by final status.",
		}, []string{"status"}),
	}
}

// ObserveStage records one stage duration. It matches enrich.Deps.Observe.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) unit(outcome string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(outcome).Inc()
}

func (m *Metrics) skipped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.units.WithLabelValues(OutcomeSkipped).Add(float64(n))
}

func (m *Metrics) sinkFailure(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) run(status string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}
