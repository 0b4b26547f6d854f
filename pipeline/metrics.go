package pipeline

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusPipelineBlocksIngested prometheus.Counter
	prometheusPipelineTxsIngested    prometheus.Counter
	prometheusPipelineQueueFullWaits *prometheus.CounterVec
	prometheusPipelineUTXOSetSize    prometheus.Gauge
	prometheusPipelineAddressCount   prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusPipelineBlocksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "blocks_ingested",
			Help:      "Number of blocks ingested",
		},
	)

	prometheusPipelineTxsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "txs_ingested",
			Help:      "Number of transactions ingested",
		},
	)

	prometheusPipelineQueueFullWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pipeline",
			Name:      "queue_full_waits",
			Help:      "Number of sleeps caused by a full downstream queue",
		},
		[]string{"queue"},
	)

	prometheusPipelineUTXOSetSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "utxo_set_size",
			Help:      "Current number of unspent outputs",
		},
	)

	prometheusPipelineAddressCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pipeline",
			Name:      "address_count",
			Help:      "Current number of registered addresses",
		},
	)
}
