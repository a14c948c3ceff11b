package notifications

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "dispatch"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Notifications delivered by the transport.
	Sent metrics.Counter
	// Notifications the transport failed to deliver.
	Failed metrics.Counter
	// Validator responses, labelled by status.
	Responses metrics.Counter
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
		Sent: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "notifications_sent_total",
			Help:      "Number of validator notifications delivered.",
		}, labels).With(labelsAndValues...),
		Failed: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "notifications_failed_total",
			Help:      "Number of validator notifications that could not be delivered.",
		}, labels).With(labelsAndValues...),
		Responses: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "responses_total",
			Help:      "Number of validator responses by status.",
		}, append(labels, "status")).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Sent:      discard.NewCounter(),
		Failed:    discard.NewCounter(),
		Responses: discard.NewCounter(),
	}
}
