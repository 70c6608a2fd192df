// Package retrieval finds the nearest note chunks for a query vector within
// a single owner's notes and splits them into relevance tiers.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notesrag.retrieval")

const (
	// DefaultThreshold separates the high and low tiers.
	DefaultThreshold = 0.6
	// DefaultTopK is used when a caller passes topK <= 0.
	DefaultTopK = 20
	// MaxTopK bounds any single query.
	MaxTopK = 200
)

// ChunkStore ranks an owner's chunks by similarity. Implementations must
// apply the owner predicate inside the ranking query.
type ChunkStore interface {
	NearestChunks(ctx context.Context, ownerID int64, vector []float32, k int) ([]vectorstore.Match, error)
}

// Embedder turns query text into a vector of the store's dimension.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// RetrievedChunk is a chunk scored against one query.
type RetrievedChunk struct {
	vectorstore.Chunk
	// Score is 1 - cosine distance, in [0,1].
	Score float64
}

// Tiers partitions retrieved chunks by the relevance threshold. Both lists
// are ordered by descending score.
type Tiers struct {
	High []RetrievedChunk
	Low  []RetrievedChunk
}

// Empty reports whether nothing was retrieved at all.
func (t *Tiers) Empty() bool {
	return len(t.High) == 0 && len(t.Low) == 0
}

// Config tunes the engine. Zero values take the defaults.
type Config struct {
	Dimension   int
	Threshold   float64
	DefaultTopK int
	MaxTopK     int
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = DefaultTopK
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = MaxTopK
	}
	if c.DefaultTopK > c.MaxTopK {
		c.DefaultTopK = c.MaxTopK
	}
}

// Engine runs owner-scoped retrieval against a ChunkStore.
type Engine struct {
	store  ChunkStore
	cfg    Config
	logger *logging.Logger
}

// NewEngine creates an Engine.
func NewEngine(store ChunkStore, cfg Config, logger *logging.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("chunk store cannot be nil")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.Threshold > 1 {
		return nil, fmt.Errorf("relevance threshold must be in (0,1], got %v", cfg.Threshold)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{store: store, cfg: cfg, logger: logger.Named("retrieval")}, nil
}

// Threshold returns the configured relevance threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

// Retrieve returns the owner's nearest chunks split into tiers. An owner
// with no chunks yields empty tiers and no error.
func (e *Engine) Retrieve(ctx context.Context, vector []float32, ownerID int64, topK int) (*Tiers, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	start := time.Now()
	defer func() { RetrieveDuration.Observe(time.Since(start).Seconds()) }()

	if ownerID <= 0 {
		return nil, fmt.Errorf("%w: owner id must be positive, got %d", ErrInvalidQuery, ownerID)
	}
	if len(vector) != e.cfg.Dimension {
		return nil, fmt.Errorf("%w: vector has %d dimensions, want %d", ErrInvalidQuery, len(vector), e.cfg.Dimension)
	}
	k := e.clampTopK(topK)
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("top_k", k))

	matches, err := e.store.NearestChunks(ctx, ownerID, vector, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrRetrieval, err)
	}

	tiers := &Tiers{High: []RetrievedChunk{}, Low: []RetrievedChunk{}}
	for _, m := range matches {
		if m.Chunk.OwnerID != ownerID {
			ForeignRowsDropped.Inc()
			e.logger.Error(ctx, "store returned a chunk of another owner; dropped",
				zap.String("chunk_id", m.Chunk.ID),
				zap.Int64("query_owner", ownerID),
			)
			continue
		}
		rc := RetrievedChunk{Chunk: m.Chunk, Score: clamp(m.Score)}
		if rc.Score >= e.cfg.Threshold {
			tiers.High = append(tiers.High, rc)
		} else {
			tiers.Low = append(tiers.Low, rc)
		}
	}
	sortByScore(tiers.High)
	sortByScore(tiers.Low)

	TierSize.WithLabelValues("high").Observe(float64(len(tiers.High)))
	TierSize.WithLabelValues("low").Observe(float64(len(tiers.Low)))
	span.SetAttributes(
		attribute.Int("high_count", len(tiers.High)),
		attribute.Int("low_count", len(tiers.Low)),
	)
	span.SetStatus(codes.Ok, "success")

	e.logger.Debug(ctx, "retrieval completed",
		zap.Int("top_k", k),
		zap.Int("high", len(tiers.High)),
		zap.Int("low", len(tiers.Low)),
		zap.Float64("threshold", e.cfg.Threshold),
	)
	return tiers, nil
}

func (e *Engine) clampTopK(k int) int {
	if k <= 0 {
		return e.cfg.DefaultTopK
	}
	if k > e.cfg.MaxTopK {
		return e.cfg.MaxTopK
	}
	return k
}

func sortByScore(chunks []RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].ID < chunks[j].ID
	})
}

func clamp(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
