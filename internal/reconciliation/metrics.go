package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	chainBreaks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "chain_breaks",
		Help:      "Number of audit chain breaks found in the last run.",
	})

	blocksChecked = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "blocks_checked",
		Help:      "Number of blocks inspected in the last run.",
	})

	runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of audit chain checks in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	runErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total audit chain checks that failed to load blocks.",
	})
)

func init() {
	prometheus.MustRegister(chainBreaks, blocksChecked, runDuration, runErrors)
}
