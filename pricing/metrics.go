package pricing

import (
	"github.com/prometheus/client_golang/prometheus"
)

// --- Metrics ---

// Metrics holds all the Prometheus metrics for the block pricer.
type Metrics struct {
	blockDuration  prometheus.Histogram
	updatesTotal   *prometheus.CounterVec
	pricesEmitted  prometheus.Counter
	unpricedPairs  prometheus.Counter
	badPoolsTotal  prometheus.Counter
	subgraphsTotal prometheus.Gauge
	poolsTotal     prometheus.Gauge
}

// NewMetrics creates and registers the metrics for the block pricer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blockDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pricer_block_duration_seconds",
			Help:    "Total time taken to price one block of pool updates.",
			Buckets: prometheus.DefBuckets,
		}),
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pricer_pool_updates_total",
			Help: "Total number of pool updates processed, labeled by delta kind.",
		}, []string{"kind"}),
		pricesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricer_prices_emitted_total",
			Help: "Total number of finalized pair prices emitted.",
		}),
		unpricedPairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricer_unpriced_pairs_total",
			Help: "Pairs that could not be priced for a block (no path, missing state, or search timeout).",
		}),
		badPoolsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pricer_bad_pools_total",
			Help: "Pools excised from subgraphs after rejected state or failed loads.",
		}),
		subgraphsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricer_subgraphs",
			Help: "Number of pairs with a verified subgraph.",
		}),
		poolsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pricer_pools",
			Help: "Number of pools known to the all-pair graph.",
		}),
	}
	reg.MustRegister(
		m.blockDuration, m.updatesTotal, m.pricesEmitted,
		m.unpricedPairs, m.badPoolsTotal, m.subgraphsTotal, m.poolsTotal,
	)
	return m
}
