package pool

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricHandlesInUse   = "handles_in_use"
	MetricWaiters        = "waiters"
	MetricAcquireSeconds = "acquire_wait_seconds"
	MetricAcquireFailed  = "acquire_failures_total"
)

var GaugeHandlesInUse = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "pins",
		Subsystem: "pool",
		Name:      MetricHandlesInUse,
		Help:      "Number of pool handles currently checked out.",
	},
)

var GaugeWaiters = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "pins",
		Subsystem: "pool",
		Name:      MetricWaiters,
		Help:      "Number of requests waiting for a pool handle.",
	},
)

var HistogramAcquireSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "pins",
		Subsystem: "pool",
		Name:      MetricAcquireSeconds,
		Help:      "Time spent waiting for a pool handle.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
	},
)

var CounterAcquireFailed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pins",
		Subsystem: "pool",
		Name:      MetricAcquireFailed,
		Help:      "Acquires abandoned because the caller's context ended.",
	},
)

func init() {
	prometheus.MustRegister(GaugeHandlesInUse)
	prometheus.MustRegister(GaugeWaiters)
	prometheus.MustRegister(HistogramAcquireSeconds)
	prometheus.MustRegister(CounterAcquireFailed)
}
