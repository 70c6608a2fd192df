package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/notesrag/internal/embeddings"

// Metrics holds the embedding instruments.
type Metrics struct {
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider. An
// instrument that cannot be created is skipped with a warning.
func NewMetrics(logger *logging.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Metrics{}
	ctx := context.Background()

	var err error
	m.duration, err = meter.Float64Histogram(
		"notesrag.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls in seconds by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"notesrag.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"notesrag.embedding.errors_total",
		metric.WithDescription("Embedding failures by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}
	return m
}

// Record records one embedding call.
func (m *Metrics) Record(ctx context.Context, model, operation string, d time.Duration, batch int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if batch > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batch), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// instrumented decorates a Provider with metrics and dimension checks.
type instrumented struct {
	Provider
	model   string
	metrics *Metrics
	logger  *logging.Logger
}

// Instrument wraps p so every call is measured and every returned vector
// is checked against p.Dimension.
func Instrument(p Provider, model string, logger *logging.Logger) Provider {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &instrumented{Provider: p, model: model, metrics: NewMetrics(logger), logger: logger}
}

func (i *instrumented) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := i.Provider.EmbedDocuments(ctx, texts)
	if err == nil {
		for _, v := range vectors {
			if err = i.checkDimension(v); err != nil {
				break
			}
		}
	}
	i.metrics.Record(ctx, i.model, "embed_documents", time.Since(start), len(texts), err)
	if err != nil {
		i.logger.Warn(ctx, "document embedding failed", zap.Int("texts", len(texts)), zap.Error(err))
		return nil, err
	}
	return vectors, nil
}

func (i *instrumented) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vector, err := i.Provider.EmbedQuery(ctx, text)
	if err == nil {
		err = i.checkDimension(vector)
	}
	i.metrics.Record(ctx, i.model, "embed_query", time.Since(start), 1, err)
	if err != nil {
		i.logger.Warn(ctx, "query embedding failed", zap.Error(err))
		return nil, err
	}
	return vector, nil
}

func (i *instrumented) checkDimension(v []float32) error {
	if want := i.Provider.Dimension(); want > 0 && len(v) != want {
		return fmt.Errorf("%w: model returned %d dimensions, want %d", ErrEmbeddingFailed, len(v), want)
	}
	return nil
}
