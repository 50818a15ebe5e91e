// Package metrics holds the Prometheus collectors for the battle keeper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "battle"

// RunBuckets covers pipeline runs from a single read up to the full run budget.
var RunBuckets = []float64{0.5, 1, 5, 15, 30, 60, 120, 300}

// Metrics groups every collector the keeper exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	StepsTotal         *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	RunSeconds         prometheus.Histogram
	ScanAssetsTotal    *prometheus.CounterVec
	PlunderMismatch    prometheus.Counter
	IndexWriteFailures *prometheus.CounterVec
}

// New registers the collectors on registerer.
func New(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		StepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "steps_total",
				Help:      "Pipeline steps by step name and outcome",
			},
			[]string{"step", "outcome"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Pipeline invocations by outcome",
			},
			[]string{"outcome"},
		),
		RunSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "run_seconds",
				Help:      "Wall time of one pipeline invocation",
				Buckets:   RunBuckets,
			},
		),
		ScanAssetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scan",
				Name:      "assets_total",
				Help:      "Assets visited by the scanner by action taken",
			},
			[]string{"action"},
		),
		PlunderMismatch: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "plunder",
				Name:      "mismatch_total",
				Help:      "Finalize steps whose observed balances missed the expected spoils transfer",
			},
		),
		IndexWriteFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "index",
				Name:      "write_failures_total",
				Help:      "Best-effort index writes that failed, by operation",
			},
			[]string{"op"},
		),
	}
}

// ObserveStep counts one step outcome.
func (m *Metrics) ObserveStep(step, outcome string) {
	if m == nil {
		return
	}
	m.StepsTotal.WithLabelValues(step, outcome).Inc()
}

// ObserveRun counts one pipeline invocation and its duration.
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunSeconds.Observe(d.Seconds())
}

// ObserveScan counts one asset visited by the scanner.
func (m *Metrics) ObserveScan(action string) {
	if m == nil {
		return
	}
	m.ScanAssetsTotal.WithLabelValues(action).Inc()
}

// ObserveMismatch counts a plunder verification mismatch.
func (m *Metrics) ObserveMismatch() {
	if m == nil {
		return
	}
	m.PlunderMismatch.Inc()
}

// ObserveIndexFailure counts a failed index write.
func (m *Metrics) ObserveIndexFailure(op string) {
	if m == nil {
		return
	}
	m.IndexWriteFailures.WithLabelValues(op).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
