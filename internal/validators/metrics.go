package validators

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "validators"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Validators registered since start.
	Registrations metrics.Counter
	// Reputation updates, labelled by outcome (accepted/rejected).
	ReputationUpdates metrics.Counter
	// Validators suspended after falling below the reputation floor.
	Suspensions metrics.Counter
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
		Registrations: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "registrations_total",
			Help:      "Number of validators registered.",
		}, labels).With(labelsAndValues...),
		ReputationUpdates: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "reputation_updates_total",
			Help:      "Number of reputation updates by outcome.",
		}, append(labels, "outcome")).With(labelsAndValues...),
		Suspensions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "suspensions_total",
			Help:      "Number of validators suspended for low reputation.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Registrations:     discard.NewCounter(),
		ReputationUpdates: discard.NewCounter(),
		Suspensions:       discard.NewCounter(),
	}
}
