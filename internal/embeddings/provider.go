package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/notesrag/internal/config"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"go.uber.org/zap"
)

// Provider embeds documents at ingest time and queries at answer time.
type Provider interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector length of the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// knownDimensions lists the output sizes of common models by their
// Hugging Face names.
var knownDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"nomic-embed-text":                       768,
	"text-embedding-3-small":                 1536,
	"text-embedding-3-large":                 3072,
	"text-embedding-ada-002":                 1536,
}

// detectDimensionFromModel returns the embedding dimension for a model name,
// guessing from size hints in the name and falling back to 384.
func detectDimensionFromModel(model string) int {
	if dim, ok := knownDimensions[model]; ok {
		return dim
	}
	name := strings.ToLower(model)
	switch {
	case strings.Contains(name, "base"):
		return 768
	case strings.Contains(name, "large"):
		return 1024
	default:
		return 384
	}
}

// NewProvider creates the configured provider, instrumented with metrics.
func NewProvider(cfg config.EmbeddingsConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("embeddings")

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "fastembed", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "hugot":
		p, err = NewHugotProvider(HugotConfig{
			Model:     cfg.Model,
			ModelPath: cfg.ModelPath,
			CacheDir:  cfg.CacheDir,
		})
	case "remote":
		p, err = NewRemoteProvider(RemoteConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey.Value(),
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (supported: fastembed, hugot, remote)", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimension", p.Dimension()),
	)
	return Instrument(p, cfg.Model, logger), nil
}
