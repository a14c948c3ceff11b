package projects

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "escrow"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Projects created with a ledger hold.
	ProjectsCreated metrics.Counter
	// Status transitions, labelled by the target status.
	Transitions metrics.Counter
	// Proofs accepted.
	ProofsAccepted metrics.Counter
	// Proofs rejected, labelled by reason.
	ProofsRejected metrics.Counter
	// Failed ledger calls, labelled by operation.
	LedgerErrors metrics.Counter
	// Time spent waiting on the ledger to settle a hold, labelled by operation.
	SettlementSeconds metrics.Histogram
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
		ProjectsCreated: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "projects_created_total",
			Help:      "Number of projects created.",
		}, labels).With(labelsAndValues...),
		Transitions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "transitions_total",
			Help:      "Number of project status transitions by target status.",
		}, append(labels, "status")).With(labelsAndValues...),
		ProofsAccepted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_accepted_total",
			Help:      "Number of validation proofs accepted.",
		}, labels).With(labelsAndValues...),
		ProofsRejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "proofs_rejected_total",
			Help:      "Number of validation proofs rejected by reason.",
		}, append(labels, "reason")).With(labelsAndValues...),
		LedgerErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "ledger_errors_total",
			Help:      "Number of failed ledger calls by operation.",
		}, append(labels, "op")).With(labelsAndValues...),
		SettlementSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "settlement_seconds",
			Help:      "Ledger settlement latency in seconds.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 15, 30},
		}, append(labels, "op")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		ProjectsCreated:   discard.NewCounter(),
		Transitions:       discard.NewCounter(),
		ProofsAccepted:    discard.NewCounter(),
		ProofsRejected:    discard.NewCounter(),
		LedgerErrors:      discard.NewCounter(),
		SettlementSeconds: discard.NewHistogram(),
	}
}
