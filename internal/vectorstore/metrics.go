package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueryDuration tracks nearest-neighbour query latency.
	// Labels: provider (postgres, qdrant, chromem)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notesrag",
			Subsystem: "vectorstore",
			Name:      "query_duration_seconds",
			Help:      "Duration of owner-scoped similarity queries in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// OperationsTotal counts store operations.
	// Labels: provider, operation (query, add, replace, delete), result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notesrag",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector store operations",
		},
		[]string{"provider", "operation", "result"},
	)
)

func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	if operation == "query" {
		QueryDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}
}
