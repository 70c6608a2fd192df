package generation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/backends"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// runFunc runs one prompt through a text generation pipeline.
type runFunc func(ctx context.Context, prompt string) (string, error)

// LocalConfig configures the in-process backend.
type LocalConfig struct {
	// ModelPath is a directory holding an ONNX text generation model.
	ModelPath string
	// Workers bounds concurrent inference. Default 1.
	Workers int
	// MaxNewTokens stops decoding once the answer can no longer fit the
	// output reservation. Default DefaultMaxNewTokens.
	MaxNewTokens int
}

// DefaultMaxNewTokens matches the default output reservation.
const DefaultMaxNewTokens = 512

func (c LocalConfig) pipelineConfig() hugot.TextGenerationConfig {
	maxNew := c.MaxNewTokens
	if maxNew <= 0 {
		maxNew = DefaultMaxNewTokens
	}
	return hugot.TextGenerationConfig{
		ModelPath: c.ModelPath,
		Name:      "notesrag-generation",
		Options:   []backends.PipelineOption[*pipelines.TextGenerationPipeline]{pipelines.WithMaxLength(maxNew)},
	}
}

// LocalBackend runs a hugot text generation pipeline in process. Calls are
// serialized through a bounded worker pool so the model state is never
// used by more than Workers goroutines at once.
type LocalBackend struct {
	run     runFunc
	pool    *semaphore.Weighted
	release func() error
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// NewLocalBackend loads the model. Sampling parameters come from the
// model's generation config. Decoding stops at MaxNewTokens and the Client
// still enforces MaxOutputTokens on the result.
func NewLocalBackend(cfg LocalConfig, logger *logging.Logger) (*LocalBackend, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: local backend requires generation.model_path", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("creating hugot session: %w", err)
	}
	pipeline, err := hugot.NewPipeline(session, cfg.pipelineConfig())
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("creating generation pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("creating generation pipeline: %w", err)
	}

	run := func(ctx context.Context, prompt string) (string, error) {
		out, err := pipeline.RunPipeline(ctx, []string{prompt})
		if err != nil {
			return "", err
		}
		if len(out.Responses) == 0 {
			return "", nil
		}
		return out.Responses[0], nil
	}

	logger.Info(context.Background(), "local generation model loaded",
		zap.String("model_path", cfg.ModelPath),
		zap.Int("max_new_tokens", pipeline.MaxLength),
	)
	return newLocalBackend(run, cfg.Workers, session.Destroy, logger), nil
}

func newLocalBackend(run runFunc, workers int, release func() error, logger *logging.Logger) *LocalBackend {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LocalBackend{
		run:     run,
		pool:    semaphore.NewWeighted(int64(workers)),
		release: release,
		logger:  logger.Named("local"),
	}
}

// Name implements Backend.
func (b *LocalBackend) Name() string { return "local" }

// Generate waits for a worker slot, runs the pipeline and frees the slot on
// every path.
func (b *LocalBackend) Generate(ctx context.Context, prompt string, _ Params) (*Completion, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	if err := b.pool.Acquire(ctx, 1); err != nil {
		return nil, &BackendError{Backend: b.Name(), Kind: KindTimeout, Err: err}
	}
	defer b.pool.Release(1)

	text, err := b.run(ctx, prompt)
	if err != nil {
		kind := KindUnknown
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			kind = KindTimeout
		}
		return nil, &BackendError{Backend: b.Name(), Kind: kind, Err: err}
	}
	return &Completion{Text: text}, nil
}

// Close waits for in-flight calls and destroys the session.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.release != nil {
		return b.release()
	}
	return nil
}
