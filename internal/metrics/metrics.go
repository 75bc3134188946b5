package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"CatalogEnricher/internal/domain"
)

// Recorder exposes enrichment counters. A nil *Recorder records nothing.
type Recorder struct {
	// ItemsTotal counts processed records by outcome
	ItemsTotal *prometheus.CounterVec
	// InferenceAttempts counts single provider calls by outcome
	InferenceAttempts *prometheus.CounterVec
	// BackoffWait observes throttle waits
	BackoffWait prometheus.Histogram
	// RunsTotal counts finished runs by terminal state
	RunsTotal *prometheus.CounterVec
	// Unanalyzed tracks records still awaiting enrichment
	Unanalyzed prometheus.Gauge
}

// New registers the enrichment metrics with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		ItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_enricher_items_total",
				Help: "Total number of records processed by outcome",
			},
			[]string{"outcome"},
		),
		InferenceAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_enricher_inference_attempts_total",
				Help: "Total number of inference requests by outcome",
			},
			[]string{"outcome"},
		),
		BackoffWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_enricher_backoff_wait_seconds",
				Help:    "Backoff waits taken after throttled inference requests",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160, 320},
			},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_enricher_runs_total",
				Help: "Total number of enrichment runs by result",
			},
			[]string{"result"},
		),
		Unanalyzed: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_enricher_unanalyzed_records",
				Help: "Records still awaiting enrichment after the last run",
			},
		),
	}
}

func (r *Recorder) Item(outcome domain.ItemOutcome) {
	if r == nil {
		return
	}
	r.ItemsTotal.WithLabelValues(string(outcome)).Inc()
}

func (r *Recorder) Attempt(kind domain.OutcomeKind) {
	if r == nil {
		return
	}
	r.InferenceAttempts.WithLabelValues(kind.String()).Inc()
}

func (r *Recorder) Wait(delay time.Duration) {
	if r == nil {
		return
	}
	r.BackoffWait.Observe(delay.Seconds())
}

// Run records a finished run and, when known, the remaining backlog.
func (r *Recorder) Run(summary domain.RunSummary) {
	if r == nil {
		return
	}
	r.RunsTotal.WithLabelValues(string(summary.State)).Inc()
	if summary.Remaining >= 0 {
		r.Unanalyzed.Set(float64(summary.Remaining))
	}
}
