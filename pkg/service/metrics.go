package service

import "github.com/prometheus/client_golang/prometheus"

var CounterRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "pins",
		Subsystem: "service",
		Name:      "requests_total",
		Help:      "Operations served, by operation and result code.",
	},
	[]string{"operation", "code"},
)

var HistogramRequestSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "pins",
		Subsystem: "service",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving an operation.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation"},
)

func init() {
	prometheus.MustRegister(CounterRequests)
	prometheus.MustRegister(HistogramRequestSeconds)
}
