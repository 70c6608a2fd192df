package embeddings

import (
	"context"
	"fmt"
	"strings"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// RemoteConfig configures an OpenAI-compatible embeddings endpoint
// (OpenAI, Ollama, TEI with the OpenAI route, vLLM).
type RemoteConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	// Dimension overrides the size guessed from the model name.
	Dimension int
}

// RemoteProvider embeds through langchaingo.
type RemoteProvider struct {
	embedder  lcembeddings.Embedder
	dimension int
}

// NewRemoteProvider creates the client. No request is made until first use.
func NewRemoteProvider(cfg RemoteConfig) (*RemoteProvider, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: remote provider requires base_url and model", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm, lcembeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	dim := cfg.Dimension
	if dim <= 0 {
		dim = detectDimensionFromModel(cfg.Model)
	}
	return newRemoteProvider(embedder, dim), nil
}

func newRemoteProvider(embedder lcembeddings.Embedder, dimension int) *RemoteProvider {
	return &RemoteProvider{embedder: embedder, dimension: dimension}
}

// EmbedDocuments implements Provider.
func (p *RemoteProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery implements Provider.
func (p *RemoteProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vector, nil
}

// Dimension implements Provider.
func (p *RemoteProvider) Dimension() int { return p.dimension }

// Close implements Provider.
func (p *RemoteProvider) Close() error { return nil }
