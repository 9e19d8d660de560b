package synchronizer

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "sync"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Height of the committed chain.
	Height metrics.Gauge
	// Number of blocks rolled back.
	RolledBackBlocks metrics.Counter
	// Number of fork switches to a longer branch.
	ForkSwitches metrics.Counter
	// Number of re-executions after a transient failure.
	ReExecutions metrics.Counter
	// Number of rejected blocks, by validation result.
	InvalidBlocks metrics.Counter
	// Number of cached blocks.
	CachedBlocks metrics.Gauge
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
		Height: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "height",
			Help:      "Height of the committed chain.",
		}, labels).With(labelsAndValues...),
		RolledBackBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rolled_back_blocks",
			Help:      "Number of committed blocks rolled back.",
		}, labels).With(labelsAndValues...),
		ForkSwitches: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "fork_switches",
			Help:      "Number of switches to a longer branch.",
		}, labels).With(labelsAndValues...),
		ReExecutions: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "re_executions",
			Help:      "Number of block re-executions after a transient failure.",
		}, labels).With(labelsAndValues...),
		InvalidBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "invalid_blocks",
			Help:      "Number of blocks that failed validation.",
		}, append(labels, "result")).With(labelsAndValues...),
		CachedBlocks: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "cached_blocks",
			Help:      "Number of blocks held in the block set.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Height:           discard.NewGauge(),
		RolledBackBlocks: discard.NewCounter(),
		ForkSwitches:     discard.NewCounter(),
		ReExecutions:     discard.NewCounter(),
		InvalidBlocks:    discard.NewCounter(),
		CachedBlocks:     discard.NewGauge(),
	}
}
