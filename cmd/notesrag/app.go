package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/notesrag/internal/config"
	"github.com/fyrsmithlabs/notesrag/internal/contextbuilder"
	"github.com/fyrsmithlabs/notesrag/internal/embeddings"
	"github.com/fyrsmithlabs/notesrag/internal/generation"
	"github.com/fyrsmithlabs/notesrag/internal/ingest"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/orchestrator"
	"github.com/fyrsmithlabs/notesrag/internal/prompt"
	"github.com/fyrsmithlabs/notesrag/internal/retrieval"
	"github.com/fyrsmithlabs/notesrag/internal/telemetry"
	"github.com/fyrsmithlabs/notesrag/internal/tokens"
	"github.com/fyrsmithlabs/notesrag/internal/vectorstore"
	"go.uber.org/zap"
)

// app holds the long-lived components. Each is built once per process and
// shared by every request.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	counter   tokens.Counter
	embedder  embeddings.Provider
	store     vectorstore.Store

	// set by withPipeline
	client *generation.Client
	orch   *orchestrator.Orchestrator
}

// loadConfig loads the configuration named by --config. Load validates.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newApp initializes logging, telemetry, the token counter, the embedder
// and the chunk store.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if degraded, cause := tel.Degraded(); degraded {
		logger.Warn(ctx, "telemetry degraded; continuing without export", zap.Error(cause))
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}

	a.counter, err = tokens.New(cfg.RAG.Encoding)
	if err != nil {
		logger.Warn(ctx, "tokenizer unavailable; counting with the character estimator",
			zap.String("encoding", cfg.RAG.Encoding),
			zap.Error(err),
		)
	}

	a.embedder, err = embeddings.NewProvider(cfg.Embeddings, logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	if dim := a.embedder.Dimension(); dim != cfg.RAG.EmbeddingDimension {
		logger.Info(ctx, "using embedding model dimension",
			zap.Int("configured", cfg.RAG.EmbeddingDimension),
			zap.Int("model", dim),
		)
	}

	a.store, err = vectorstore.NewStore(ctx, cfg.Store, a.embedder.Dimension(), logger)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to create chunk store: %w", err)
	}

	return a, nil
}

// withPipeline builds the generation client and the answer pipeline.
func (a *app) withPipeline(ctx context.Context) error {
	cfg := a.cfg

	engine, err := retrieval.NewEngine(a.store, retrieval.Config{
		Dimension:   a.embedder.Dimension(),
		Threshold:   cfg.RAG.RelevanceThreshold,
		DefaultTopK: cfg.RAG.TopK,
		MaxTopK:     cfg.RAG.MaxTopK,
	}, a.logger)
	if err != nil {
		return err
	}

	assembler, err := prompt.NewAssembler(a.counter, prompt.NewPatternClassifier(), prompt.Config{
		ModelContextWindow:   cfg.RAG.ModelContextWindow,
		ReservedOutputTokens: cfg.RAG.MaxOutputTokens,
		QueryTokenCeiling:    cfg.RAG.QueryTokenCeiling,
		ContextBudget:        cfg.RAG.ContextBudget,
	}, a.logger)
	if err != nil {
		return err
	}

	backend, err := generation.NewBackend(cfg.Generation, cfg.RAG.MaxOutputTokens, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create generation backend: %w", err)
	}

	params := generation.Params{
		MaxOutputTokens:   cfg.RAG.MaxOutputTokens,
		Temperature:       cfg.Generation.Temperature,
		TopP:              cfg.Generation.TopP,
		RepetitionPenalty: cfg.Generation.RepetitionPenalty,
	}
	policy := generation.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Generation.MaxAttempts
	policy.InitialBackoff = cfg.Generation.InitialBackoff
	policy.MaxBackoff = cfg.Generation.MaxBackoff
	validator := generation.DefaultValidator()
	validator.MinChars = cfg.Generation.MinOutputChars

	a.client, err = generation.NewClient(backend, policy, validator, a.counter, generation.ClientConfig{
		Timeout:        cfg.Generation.Timeout,
		AttemptTimeout: cfg.Generation.AttemptTimeout,
		Params:         params,
	}, a.logger)
	if err != nil {
		_ = backend.Close()
		return err
	}

	a.orch, err = orchestrator.New(
		a.embedder,
		engine,
		contextbuilder.New(a.counter, cfg.RAG.ChunkOverhead, a.logger),
		assembler,
		a.client,
		orchestrator.Config{
			ContextBudget: cfg.RAG.ContextBudget,
			TopK:          cfg.RAG.TopK,
			MaxQueryChars: cfg.RAG.MaxQueryChars,
			Params:        params,
		},
		a.logger,
	)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "answer pipeline ready",
		zap.String("backend", a.client.BackendName()),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("store", cfg.Store.Provider),
		zap.Int("context_budget", cfg.RAG.ContextBudget),
		zap.Int("max_output_tokens", a.client.MaxOutputTokens()),
	)
	return nil
}

// ingester builds a document ingester over the app's embedder and store.
func (a *app) ingester() *ingest.Ingester {
	return ingest.New(a.embedder, a.store, a.counter, ingest.Config{}, a.logger)
}

// Close releases every component in reverse order of construction.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.embedder != nil {
		errs = append(errs, a.embedder.Close())
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "error while closing components", zap.Error(err))
	}
	if err := a.telemetry.Shutdown(ctx); err != nil && a.logger != nil {
		a.logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
