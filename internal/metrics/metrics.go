package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// Build results.
const (
	ResultBuilt  = "built"
	ResultCached = "cached"
	ResultFailed = "failed"
)

// Recorder exposes snapshot engine metrics. A nil *Recorder is a no-op.
type Recorder struct {
	registry *prometheus.Registry
	fetches  *prometheus.CounterVec
	builds   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	coverage *prometheus.GaugeVec
	retained *prometheus.GaugeVec
}

// New creates a recorder on its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketsnap",
				Name:      "symbol_fetches_total",
				Help:      "Per-symbol fetch outcomes",
			},
			[]string{"panel", "outcome"},
		),
		builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marketsnap",
				Name:      "builds_total",
				Help:      "Panel builds by result",
			},
			[]string{"panel", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "marketsnap",
				Name:      "build_duration_seconds",
				Help:      "Duration of panel builds in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"panel"},
		),
		coverage: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "marketsnap",
				Name:      "coverage_ratio",
				Help:      "Retained symbols divided by universe size for the latest build",
			},
			[]string{"panel"},
		),
		retained: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "marketsnap",
				Name:      "retained_symbols",
				Help:      "Symbols retained in the latest build",
			},
			[]string{"panel"},
		),
	}
	reg.MustRegister(
		r.fetches, r.builds, r.duration, r.coverage, r.retained,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RecordFetch counts one per-symbol fetch outcome.
func (r *Recorder) RecordFetch(panel, outcome string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(panel, outcome).Inc()
}

// RecordBuild counts a build and observes its duration.
func (r *Recorder) RecordBuild(panel, result string, seconds float64) {
	if r == nil {
		return
	}
	r.builds.WithLabelValues(panel, result).Inc()
	r.duration.WithLabelValues(panel).Observe(seconds)
}

// RecordCoverage sets the latest coverage figures.
func (r *Recorder) RecordCoverage(panel string, retained, total int) {
	if r == nil {
		return
	}
	r.retained.WithLabelValues(panel).Set(float64(retained))
	if total > 0 {
		r.coverage.WithLabelValues(panel).Set(float64(retained) / float64(total))
	}
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
