package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"

	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "dpos"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Current round number.
	RoundNumber metrics.Gauge
	// Number of blocks produced by this node.
	MinedBlocks metrics.Counter
	// Number of consensus transactions submitted, by method.
	ConsensusTxs metrics.Counter
	// Number of slots skipped because of an error.
	SkippedSlots metrics.Counter
	// Number of triggers dropped while another production was running.
	DroppedTriggers metrics.Counter
	// Time spent mining a block.
	MiningSeconds metrics.Histogram
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
		RoundNumber: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "round_number",
			Help:      "Current DPoS round number.",
		}, labels).With(labelsAndValues...),
		MinedBlocks: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mined_blocks",
			Help:      "Number of blocks produced by this node.",
		}, labels).With(labelsAndValues...),
		ConsensusTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "consensus_txs",
			Help:      "Number of consensus transactions submitted.",
		}, append(labels, "method")).With(labelsAndValues...),
		SkippedSlots: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "skipped_slots",
			Help:      "Number of time slots skipped because of an error.",
		}, labels).With(labelsAndValues...),
		DroppedTriggers: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped_triggers",
			Help:      "Number of slot triggers dropped while producing.",
		}, labels).With(labelsAndValues...),
		MiningSeconds: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "mining_seconds",
			Help:      "Time spent building and committing a block.",
			Buckets:   stdprometheus.ExponentialBuckets(0.001, 4, 8),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		RoundNumber:     discard.NewGauge(),
		MinedBlocks:     discard.NewCounter(),
		ConsensusTxs:    discard.NewCounter(),
		SkippedSlots:    discard.NewCounter(),
		DroppedTriggers: discard.NewCounter(),
		MiningSeconds:   discard.NewHistogram(),
	}
}
