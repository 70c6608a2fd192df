package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/contextbuilder"
	"github.com/fyrsmithlabs/notesrag/internal/generation"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/prompt"
	"github.com/fyrsmithlabs/notesrag/internal/retrieval"
	"github.com/fyrsmithlabs/notesrag/internal/sanitize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notesrag.orchestrator")

// Retriever is the owner-scoped retrieval stage.
type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, ownerID int64, topK int) (*retrieval.Tiers, error)
}

// ContextPacker is the context building stage.
type ContextPacker interface {
	Build(ctx context.Context, high, low []retrieval.RetrievedChunk, budget int) *contextbuilder.Result
}

// PromptAssembler is the prompt stage.
type PromptAssembler interface {
	Assemble(ctx context.Context, query, contextText string) (*prompt.Result, error)
}

// Generator is the generation stage.
type Generator interface {
	Generate(ctx context.Context, prompt string, params generation.Params) (*generation.Result, error)
	BackendName() string
}

// Config holds the per-request settings read once at startup.
type Config struct {
	ContextBudget int
	TopK          int
	MaxQueryChars int
	// Params are the sampling parameters passed to every generation.
	Params generation.Params
}

// Orchestrator runs the answer pipeline. It holds no per-request state and
// is safe for concurrent use.
type Orchestrator struct {
	embedder  retrieval.Embedder
	retriever Retriever
	builder   ContextPacker
	assembler PromptAssembler
	generator Generator
	cfg       Config
	logger    *logging.Logger
}

// New wires the stages together.
func New(embedder retrieval.Embedder, retriever Retriever, builder ContextPacker, assembler PromptAssembler, generator Generator, cfg Config, logger *logging.Logger) (*Orchestrator, error) {
	switch {
	case embedder == nil:
		return nil, errors.New("embedder cannot be nil")
	case retriever == nil:
		return nil, errors.New("retriever cannot be nil")
	case builder == nil:
		return nil, errors.New("context builder cannot be nil")
	case assembler == nil:
		return nil, errors.New("prompt assembler cannot be nil")
	case generator == nil:
		return nil, errors.New("generator cannot be nil")
	}
	if cfg.ContextBudget <= 0 {
		return nil, fmt.Errorf("context budget must be positive, got %d", cfg.ContextBudget)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		embedder:  embedder,
		retriever: retriever,
		builder:   builder,
		assembler: assembler,
		generator: generator,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// Answer answers query from ownerID's notes. Finding no relevant notes is
// not an error. On failure the response is still complete and the error
// wraps ErrInvalidInput, ErrEmbedding, ErrRetrieval, ErrGeneration or
// ErrGenerationTimeout.
func (o *Orchestrator) Answer(ctx context.Context, query string, ownerID int64, opts AnswerOptions) (*QueryResponse, error) {
	ctx = logging.WithOwnerID(ctx, ownerID)
	ctx, span := tracer.Start(ctx, "Orchestrator.Answer")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID))

	start := time.Now()
	meta := &Metadata{}
	resp, err := o.answer(ctx, query, ownerID, opts, meta)

	meta.DurationMs = time.Since(start).Milliseconds()
	if opts.IncludeDiagnostics {
		resp.Metadata = meta
	}
	if resp.Sources == nil {
		resp.Sources = []Source{}
	}

	AnswersTotal.WithLabelValues(string(resp.Status)).Inc()
	AnswerDuration.WithLabelValues(string(resp.Status)).Observe(time.Since(start).Seconds())
	for _, f := range meta.SafetyFlags {
		SafetyFlagsTotal.WithLabelValues(string(f)).Inc()
	}

	span.SetAttributes(
		attribute.String("status", string(resp.Status)),
		attribute.Int("sources", len(resp.Sources)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "success")
	}

	o.logger.Info(ctx, "answer completed",
		zap.String("status", string(resp.Status)),
		zap.Int("sources", len(resp.Sources)),
		zap.Int("chunks_used", meta.ChunksUsed),
		zap.Int64("duration_ms", meta.DurationMs),
	)
	return resp, err
}

func (o *Orchestrator) answer(ctx context.Context, query string, ownerID int64, opts AnswerOptions, meta *Metadata) (*QueryResponse, error) {
	if err := sanitize.OwnerID(ownerID); err != nil {
		return invalidInput(meta, err)
	}
	if err := sanitize.Query(query, o.cfg.MaxQueryChars); err != nil {
		return invalidInput(meta, err)
	}

	vector, err := o.embedder.EmbedQuery(ctx, sanitize.Text(query))
	if err != nil {
		meta.FailureReason = err.Error()
		o.logger.Error(ctx, "query embedding failed", zap.Error(err))
		return &QueryResponse{Answer: UnavailableAnswer, Status: StatusEmbeddingFailed},
			fmt.Errorf("%w: %w", ErrEmbedding, err)
	}

	topK := opts.TopK
	if topK <= 0 {
		topK = o.cfg.TopK
	}
	tiers, err := o.retriever.Retrieve(ctx, vector, ownerID, topK)
	if err != nil {
		meta.FailureReason = err.Error()
		if errors.Is(err, retrieval.ErrInvalidQuery) {
			// a vector of the wrong size is a wiring defect, not bad user input
			o.logger.Error(ctx, "retrieval rejected the query vector", zap.Error(err))
		} else {
			o.logger.Error(ctx, "retrieval failed", zap.Error(err))
		}
		return &QueryResponse{Answer: UnavailableAnswer, Status: StatusRetrievalFailed},
			fmt.Errorf("%w: %w", ErrRetrieval, err)
	}

	packed := o.builder.Build(ctx, tiers.High, tiers.Low, o.cfg.ContextBudget)
	meta.ChunksUsed = len(packed.Chunks)
	meta.ChunksSkipped = packed.Skipped
	meta.LowTierCount = len(packed.Low)
	meta.ContextTruncated = packed.Truncated
	ContextTokens.Observe(float64(packed.TotalTokens))

	assembled, err := o.assembler.Assemble(ctx, query, packed.Text)
	if err != nil {
		if errors.Is(err, prompt.ErrEmptyQuery) {
			return invalidInput(meta, err)
		}
		meta.GenerationFailed = true
		meta.FailureReason = err.Error()
		o.logger.Error(ctx, "prompt assembly failed", zap.Error(err))
		return &QueryResponse{Answer: FallbackAnswer, Status: StatusGenerationFailed},
			fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	recordPrompt(meta, assembled)

	if packed.Empty() {
		meta.NoContext = true
		o.logger.Debug(ctx, "no relevant notes; skipping generation",
			zap.Int("low_tier", len(packed.Low)),
		)
		return &QueryResponse{Answer: NoContextAnswer, Status: StatusNoContext}, nil
	}

	params := o.cfg.Params
	params.MaxOutputTokens = assembled.ReservedOutputTokens
	generated, err := o.generator.Generate(ctx, assembled.Text, params)
	meta.Backend = o.generator.BackendName()
	if err != nil {
		meta.GenerationFailed = true
		meta.FailureReason = err.Error()
		o.logger.Error(ctx, "generation failed; returning fallback answer", zap.Error(err))
		sentinel := ErrGeneration
		if errors.Is(err, generation.ErrGenerationTimeout) {
			sentinel = ErrGenerationTimeout
		}
		return &QueryResponse{Answer: FallbackAnswer, Status: StatusGenerationFailed},
			fmt.Errorf("%w: %w", sentinel, err)
	}
	meta.OutputTokens = generated.OutputTokens
	meta.OutputTruncated = generated.TruncatedByLength
	meta.Attempts = generated.Attempts

	if prompt.ContainsPersonaLeak(generated.Text) {
		meta.SafetyFlags = append(meta.SafetyFlags, prompt.FlagLeakBlocked)
		o.logger.Warn(ctx, "answer repeated the system instructions; replaced with refusal",
			zap.Int("output_tokens", generated.OutputTokens),
		)
		return &QueryResponse{Answer: LeakRefusalAnswer, Status: StatusAnswered}, nil
	}

	return &QueryResponse{
		Answer:  generated.Text,
		Sources: sources(packed),
		Status:  StatusAnswered,
	}, nil
}

func invalidInput(meta *Metadata, err error) (*QueryResponse, error) {
	meta.FailureReason = err.Error()
	return &QueryResponse{Answer: InvalidInputAnswer, Status: StatusInvalidInput},
		fmt.Errorf("%w: %w", ErrInvalidInput, err)
}

func recordPrompt(meta *Metadata, p *prompt.Result) {
	meta.SystemTokens = p.SystemTokens
	meta.ContextTokens = p.ContextTokens
	meta.QueryTokens = p.QueryTokens
	meta.ReservedOutputTokens = p.ReservedOutputTokens
	meta.TotalInputTokens = p.TotalInputTokens
	meta.RemainingInputTokens = p.RemainingInputTokens
	meta.QueryTruncated = p.QueryTruncated
	meta.WithinBudget = p.WithinBudget
	meta.ContextTruncated = meta.ContextTruncated || p.ContextCut
	meta.SafetyFlags = append(meta.SafetyFlags, p.SafetyFlags...)
}

// sources lists the cited notes once each, in order of first citation.
func sources(packed *contextbuilder.Result) []Source {
	byDoc := make(map[string]int, len(packed.DocumentIDs))
	out := make([]Source, 0, len(packed.DocumentIDs))
	for _, c := range packed.Chunks {
		if i, ok := byDoc[c.DocumentID]; ok {
			out[i].Chunks++
			if c.Score > out[i].Score {
				out[i].Score = c.Score
			}
			continue
		}
		title := c.Source.Title
		if title == "" {
			title = c.DocumentID
		}
		byDoc[c.DocumentID] = len(out)
		out = append(out, Source{
			DocumentID: c.DocumentID,
			Title:      title,
			Author:     c.Source.Author,
			Date:       c.Source.Date,
			References: c.Source.References,
			Score:      c.Score,
			Chunks:     1,
		})
	}
	return out
}
