package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	workersGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "workers",
			Help:      "Alive workers per identity",
		},
		[]string{"capability", "identity"},
	)

	queueDepthGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Queued requests per identity",
		},
		[]string{"capability", "identity"},
	)

	spawnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "workers_spawned_total",
			Help:      "Total workers spawned",
		},
		[]string{"capability"},
	)

	spawnFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "spawn_failures_total",
			Help:      "Total failed spawn attempts",
		},
		[]string{"capability", "reason"},
	)

	evictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "workers_evicted_total",
			Help:      "Total workers removed, by removal reason",
		},
		[]string{"capability", "reason"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatched requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"capability", "identity", "op"},
	)

	dispatchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "poold",
			Subsystem: "pool",
			Name:      "dispatch_errors_total",
			Help:      "Dispatch failures by error kind",
		},
		[]string{"capability", "kind"},
	)

	allocatedMBGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "memory",
			Name:      "allocated_mb",
			Help:      "Memory reserved by alive workers in MB",
		},
	)

	ceilingMBGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "memory",
			Name:      "ceiling_mb",
			Help:      "Configured admission budget in MB",
		},
	)

	pressureGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "poold",
			Subsystem: "memory",
			Name:      "pressure",
			Help:      "Memory pressure tier (0=normal 1=warning 2=critical)",
		},
	)
)

func init() {
	prometheus.MustRegister(
		workersGauge, queueDepthGauge,
		spawnsTotal, spawnFailuresTotal, evictionsTotal,
		dispatchDuration, dispatchErrorsTotal,
		allocatedMBGauge, ceilingMBGauge, pressureGauge,
	)
}

// errorKind maps a dispatch error to a low-cardinality metric label.
func errorKind(err error) string {
	switch {
	case IsNoWorkers(err):
		return "no_workers"
	case IsSpawnFailed(err):
		return "spawn_failed"
	case IsSpawnTimeout(err):
		return "spawn_timeout"
	case IsShuttingDown(err):
		return "shutting_down"
	case IsOverloaded(err):
		return "overloaded"
	case IsChannelClosed(err):
		return "channel_closed"
	default:
		return "other"
	}
}
