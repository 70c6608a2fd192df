package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RetrieveDuration tracks end-to-end Retrieve latency.
	RetrieveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "notesrag",
		Subsystem: "retrieval",
		Name:      "duration_seconds",
		Help:      "Duration of owner-scoped retrieval in seconds",
		Buckets:   prometheus.DefBuckets,
	})

	// TierSize observes how many chunks land in each tier.
	// Labels: tier (high, low)
	TierSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notesrag",
		Subsystem: "retrieval",
		Name:      "tier_size",
		Help:      "Number of chunks per relevance tier",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100, 200},
	}, []string{"tier"})

	// ForeignRowsDropped counts rows a store returned for another owner.
	// Any non-zero value is a store defect.
	ForeignRowsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "notesrag",
		Subsystem: "retrieval",
		Name:      "foreign_rows_dropped_total",
		Help:      "Rows dropped because their owner did not match the query owner",
	})
)
