package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AnswersTotal counts Answer calls.
	// Labels: status
	AnswersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notesrag",
		Subsystem: "pipeline",
		Name:      "answers_total",
		Help:      "Answer calls by outcome status",
	}, []string{"status"})

	// AnswerDuration tracks end-to-end Answer latency.
	// Labels: status
	AnswerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "notesrag",
		Subsystem: "pipeline",
		Name:      "answer_duration_seconds",
		Help:      "End-to-end Answer latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"status"})

	// SafetyFlagsTotal counts safety flags raised on queries and answers.
	// Labels: flag
	SafetyFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "notesrag",
		Subsystem: "pipeline",
		Name:      "safety_flags_total",
		Help:      "Safety flags raised by the query classifier or the output leak guard",
	}, []string{"flag"})

	// ContextTokens observes packed context size.
	ContextTokens = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "notesrag",
		Subsystem: "pipeline",
		Name:      "context_tokens",
		Help:      "Tokens of evidence packed into the prompt",
		Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
	})
)
