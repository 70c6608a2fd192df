package embeddings

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
)

// batchFunc embeds a batch of texts.
type batchFunc func(texts []string) ([][]float32, error)

// HugotConfig configures the pure Go provider.
type HugotConfig struct {
	// Model is a Hugging Face model name, downloaded when ModelPath is empty.
	Model string
	// ModelPath is a local directory with an ONNX feature extraction model.
	ModelPath string
	// CacheDir receives downloaded models.
	CacheDir string
}

// HugotProvider runs a hugot feature extraction pipeline in process. It needs
// neither cgo nor a model server.
type HugotProvider struct {
	run       batchFunc
	release   func() error
	dimension int

	mu     sync.Mutex
	closed bool
}

// NewHugotProvider loads the model, downloading it into CacheDir when no
// ModelPath is given.
func NewHugotProvider(cfg HugotConfig) (*HugotProvider, error) {
	if cfg.Model == "" {
		cfg.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	modelPath := cfg.ModelPath
	if modelPath == "" {
		var err error
		modelPath, err = prepareModel(cfg.Model, cfg.CacheDir)
		if err != nil {
			return nil, err
		}
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("creating hugot session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "notesrag-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("creating embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("creating embedding pipeline: %w", err)
	}

	run := func(texts []string) ([][]float32, error) {
		out, err := pipeline.RunPipeline(texts)
		if err != nil {
			return nil, err
		}
		return out.Embeddings, nil
	}
	return newHugotProvider(run, detectDimensionFromModel(cfg.Model), session.Destroy), nil
}

func newHugotProvider(run batchFunc, dimension int, release func() error) *HugotProvider {
	return &HugotProvider{run: run, dimension: dimension, release: release}
}

// prepareModel returns the local path of model, downloading it if missing.
func prepareModel(model, cacheDir string) (string, error) {
	if cacheDir == "" {
		cacheDir = defaultCacheDir()
	}
	modelPath := filepath.Join(cacheDir, strings.ReplaceAll(model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	}
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return "", fmt.Errorf("creating model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	path, err := hugot.DownloadModel(model, cacheDir, opts)
	if err != nil {
		return "", fmt.Errorf("downloading model %s: %w", model, err)
	}
	return path, nil
}

// EmbedDocuments implements Provider.
func (p *HugotProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, texts)
}

// EmbedQuery implements Provider.
func (p *HugotProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embed serializes pipeline calls; the Go backend session is not safe for
// concurrent runs.
func (p *HugotProvider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("%w: provider closed", ErrEmbeddingFailed)
	}

	vectors, err := p.run(texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	return vectors, nil
}

// Dimension implements Provider.
func (p *HugotProvider) Dimension() int { return p.dimension }

// Close destroys the session.
func (p *HugotProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.release != nil {
		return p.release()
	}
	return nil
}
