package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "loads_total",
			Help:      "Pipeline loads by outcome",
		},
		[]string{"arch", "outcome"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Pipelines removed from the cache by reason",
		},
		[]string{"reason"},
	)

	demotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "demotions_total",
			Help:      "Pipelines moved from the accelerator to host memory",
		},
	)

	oomRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "oom_retries_total",
			Help:      "Accelerator out-of-memory failures recovered by demoting a pipeline",
		},
	)

	resourceExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "resource_exhausted_total",
			Help:      "Operations that failed after every evictable pipeline was demoted",
		},
	)

	teardownFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "overlay_teardown_failures_total",
			Help:      "Overlay reversals that failed and destroyed their pipeline",
		},
	)

	residentEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "imaged",
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Cached pipelines by tier",
		},
		[]string{"tier"},
	)

	generateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "imaged",
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Accelerator time spent generating images",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
		[]string{"arch"},
	)
)

func init() {
	prometheus.MustRegister(
		loadsTotal,
		evictionsTotal,
		demotionsTotal,
		oomRetriesTotal,
		resourceExhaustedTotal,
		teardownFailuresTotal,
		residentEntries,
		generateDuration,
	)
}
