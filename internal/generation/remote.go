package generation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// RemoteConfig configures the OpenAI-compatible backend.
type RemoteConfig struct {
	BaseURL string
	Model   string
	APIKey  string
	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
}

// RemoteBackend calls an OpenAI-compatible chat endpoint (OpenAI, Ollama,
// vLLM, llama.cpp server) through langchaingo.
type RemoteBackend struct {
	llm     llms.Model
	limiter *rate.Limiter
	model   string
	logger  *logging.Logger
}

// NewRemoteBackend creates the client. No request is made until Generate.
func NewRemoteBackend(cfg RemoteConfig, logger *logging.Logger) (*RemoteBackend, error) {
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("%w: remote backend requires base_url and model", ErrInvalidConfig)
	}
	token := cfg.APIKey
	if token == "" {
		// langchaingo requires a token; local servers ignore it
		token = "placeholder"
	}
	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	return newRemoteBackend(llm, cfg, logger), nil
}

func newRemoteBackend(llm llms.Model, cfg RemoteConfig, logger *logging.Logger) *RemoteBackend {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &RemoteBackend{llm: llm, model: cfg.Model, logger: logger.Named("remote")}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return b
}

// Name implements Backend.
func (b *RemoteBackend) Name() string { return "remote" }

// Generate sends the prompt as a single human message.
func (b *RemoteBackend) Generate(ctx context.Context, prompt string, params Params) (*Completion, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, &BackendError{Backend: b.Name(), Kind: KindTimeout, Err: err}
		}
	}

	opts := []llms.CallOption{
		llms.WithTemperature(params.Temperature),
		llms.WithTopP(params.TopP),
		llms.WithRepetitionPenalty(params.RepetitionPenalty),
	}
	if params.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxOutputTokens))
	}

	resp, err := b.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}, opts...)
	if err != nil {
		be := classifyRemoteError(err)
		b.logger.Debug(ctx, "remote generation call failed",
			zap.String("kind", string(be.Kind)),
			zap.Int("status_code", be.StatusCode),
			zap.Error(err),
		)
		return nil, be
	}
	if resp == nil || len(resp.Choices) == 0 {
		return &Completion{}, nil
	}

	choice := resp.Choices[0]
	return &Completion{
		Text:              choice.Content,
		TruncatedByLength: strings.EqualFold(choice.StopReason, "length"),
	}, nil
}

// Close implements Backend. The HTTP client holds no resources to release.
func (b *RemoteBackend) Close() error { return nil }

// classifyRemoteError maps transport and HTTP failures onto retry kinds.
func classifyRemoteError(err error) *BackendError {
	be := &BackendError{Backend: "remote", Kind: KindUnknown, Err: err}

	if m := statusCodePattern.FindStringSubmatch(err.Error()); m != nil {
		be.StatusCode, _ = strconv.Atoi(m[1])
		be.Kind = kindForStatus(be.StatusCode)
		return be
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		be.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		be.Kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		be.Kind = KindUnavailable
	}
	return be
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == 429:
		return KindRateLimited
	case code == 408:
		return KindTimeout
	case code >= 500:
		return KindUnavailable
	case code == 401 || code == 403:
		return KindAuth
	case code == 404:
		return KindNotFound
	case code == 400 || code == 413 || code == 422:
		return KindBadRequest
	default:
		return KindUnknown
	}
}
