package query

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finsight",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Latency of query API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finsight",
			Subsystem: "api",
			Name:      "request_errors_total",
			Help:      "Errors by query API endpoint",
		},
		[]string{"endpoint"},
	)

	searchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "finsight",
			Subsystem: "search",
			Name:      "results_returned",
			Help:      "Result counts of semantic news searches",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)
)

// RegisterMetrics registers the query API collectors once
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(requestLatency, requestErrors, searchResults)
	})
}
