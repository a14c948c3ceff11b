package scheduler

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "sweeper"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Open projects seen by the last sweep.
	OpenProjects metrics.Gauge
	// Completed sweeps.
	Sweeps metrics.Counter
	// Lifecycle actions taken, labelled by action.
	Actions metrics.Counter
	// Failed lifecycle actions, labelled by action.
	Failures metrics.Counter
	// Wall time of one sweep.
	SweepSeconds metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		OpenProjects: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "open_projects",
			Help:      "Number of non-terminal projects at the last sweep.",
		}, labels).With(labelsAndValues...),
		Sweeps: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sweeps_total",
			Help:      "Number of completed deadline sweeps.",
		}, labels).With(labelsAndValues...),
		Actions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "actions_total",
			Help:      "Number of lifecycle actions taken by the sweeper.",
		}, append(labels, "action")).With(labelsAndValues...),
		Failures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failures_total",
			Help:      "Number of lifecycle actions that failed.",
		}, append(labels, "action")).With(labelsAndValues...),
		SweepSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sweep_duration_seconds",
			Help:      "Time taken by one deadline sweep.",
			Buckets:   stdprometheus.ExponentialBuckets(0.01, 2, 12),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		OpenProjects: discard.NewGauge(),
		Sweeps:       discard.NewCounter(),
		Actions:      discard.NewCounter(),
		Failures:     discard.NewCounter(),
		SweepSeconds: discard.NewHistogram(),
	}
}
