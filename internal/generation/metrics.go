package generation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Duration tracks generation latency including retries.
	// Labels: backend, outcome (success, invalid_output, timeout, error)
	Duration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notesrag",
		Subsystem: "generation",
		Name:      "duration_seconds",
		Help:      "Duration of generation calls in seconds, retries included",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"backend", "outcome"})

	// AttemptsTotal counts backend attempts.
	// Labels: backend, kind (ok or an ErrorKind)
	AttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notesrag",
		Subsystem: "generation",
		Name:      "attempts_total",
		Help:      "Backend attempts by result kind",
	}, []string{"backend", "kind"})

	// OutputTokens observes generated token counts after capping.
	OutputTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "notesrag",
		Subsystem: "generation",
		Name:      "output_tokens",
		Help:      "Generated output tokens",
		Buckets:   prometheus.ExponentialBuckets(8, 2, 9),
	})
)
