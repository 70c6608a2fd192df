package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/tokens"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notesrag.generation")

// Defaults applied by NewClient.
const (
	DefaultTimeout         = 60 * time.Second
	DefaultAttemptTimeout  = 30 * time.Second
	DefaultMaxOutputTokens = 512
)

// ClientConfig bounds a Client's calls. Zero values take the defaults.
type ClientConfig struct {
	// Timeout bounds a whole Generate call, retries included.
	Timeout time.Duration
	// AttemptTimeout bounds one backend call.
	AttemptTimeout time.Duration
	// Params are used for any field a caller leaves zero.
	Params Params
}

func (c *ClientConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.AttemptTimeout <= 0 || c.AttemptTimeout > c.Timeout {
		c.AttemptTimeout = c.Timeout
	}
	if c.Params.MaxOutputTokens <= 0 {
		c.Params.MaxOutputTokens = DefaultMaxOutputTokens
	}
}

// Result is a validated generation.
type Result struct {
	Text         string
	OutputTokens int
	Latency      time.Duration
	Backend      string
	// TruncatedByLength is set when the output hit MaxOutputTokens.
	TruncatedByLength bool
	Attempts          int
}

// Client drives one Backend through the retry policy, the timeouts and
// output validation. It is safe for concurrent use.
type Client struct {
	backend   Backend
	policy    RetryPolicy
	validator Validator
	counter   tokens.Counter
	cfg       ClientConfig
	logger    *logging.Logger
}

// NewClient creates a Client that owns backend; Close releases it.
func NewClient(backend Backend, policy RetryPolicy, validator Validator, counter tokens.Counter, cfg ClientConfig, logger *logging.Logger) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend cannot be nil", ErrInvalidConfig)
	}
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg.applyDefaults()
	return &Client{
		backend:   backend,
		policy:    policy,
		validator: validator,
		counter:   counter,
		cfg:       cfg,
		logger:    logger.Named("generation"),
	}, nil
}

// BackendName returns the name of the wrapped backend.
func (c *Client) BackendName() string { return c.backend.Name() }

// MaxOutputTokens returns the default output cap.
func (c *Client) MaxOutputTokens() int { return c.cfg.Params.MaxOutputTokens }

// Generate produces validated text for prompt. Transient backend failures
// are retried per the policy. Expiry of the overall deadline yields
// ErrGenerationTimeout; every other failure wraps ErrGenerationFailed.
func (c *Client) Generate(ctx context.Context, prompt string, params Params) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Client.Generate")
	defer span.End()

	params = c.withDefaults(params)
	name := c.backend.Name()
	span.SetAttributes(
		attribute.String("backend", name),
		attribute.Int("max_output_tokens", params.MaxOutputTokens),
	)

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		completion *Completion
		attempts   int
	)
	err := c.policy.Do(callCtx, func(ctx context.Context) error {
		attempts++
		out, err := c.attempt(ctx, prompt, params)
		if err != nil {
			AttemptsTotal.WithLabelValues(name, attemptKind(err)).Inc()
			return err
		}
		if err := c.validator.Validate(out.Text); err != nil {
			AttemptsTotal.WithLabelValues(name, "invalid_output").Inc()
			return err
		}
		AttemptsTotal.WithLabelValues(name, "ok").Inc()
		completion = out
		return nil
	}, func(err error, wait time.Duration) {
		c.logger.Warn(ctx, "generation attempt failed, retrying",
			zap.String("backend", name),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})
	latency := time.Since(start)

	if err != nil {
		outcome := "error"
		switch {
		case callCtx.Err() != nil && !errors.Is(ctx.Err(), context.Canceled):
			outcome = "timeout"
			err = fmt.Errorf("%w after %s and %d attempt(s): %v", ErrGenerationTimeout, latency.Round(time.Millisecond), attempts, err)
		case errors.Is(err, ErrInvalidOutput):
			outcome = "invalid_output"
			err = fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		default:
			err = fmt.Errorf("%w after %d attempt(s): %w", ErrGenerationFailed, attempts, err)
		}
		Duration.WithLabelValues(name, outcome).Observe(latency.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error(ctx, "generation failed",
			zap.String("backend", name),
			zap.String("outcome", outcome),
			zap.Int("attempts", attempts),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		return nil, err
	}

	text := completion.Text
	truncated := completion.TruncatedByLength
	outputTokens := c.counter.Count(text)
	if outputTokens > params.MaxOutputTokens {
		text = c.counter.Truncate(text, params.MaxOutputTokens)
		outputTokens = c.counter.Count(text)
		truncated = true
	}

	Duration.WithLabelValues(name, "success").Observe(latency.Seconds())
	OutputTokens.Observe(float64(outputTokens))
	span.SetAttributes(
		attribute.Int("attempts", attempts),
		attribute.Int("output_tokens", outputTokens),
		attribute.Bool("truncated_by_length", truncated),
	)
	span.SetStatus(codes.Ok, "success")

	c.logger.Debug(ctx, "generation completed",
		zap.String("backend", name),
		zap.Int("attempts", attempts),
		zap.Int("output_tokens", outputTokens),
		zap.Duration("latency", latency),
	)

	return &Result{
		Text:              text,
		OutputTokens:      outputTokens,
		Latency:           latency,
		Backend:           name,
		TruncatedByLength: truncated,
		Attempts:          attempts,
	}, nil
}

// attempt runs one backend call under AttemptTimeout. A call cut off by the
// attempt deadline, while the overall deadline still holds, is a transient
// timeout.
func (c *Client) attempt(ctx context.Context, prompt string, params Params) (*Completion, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.AttemptTimeout)
	defer cancel()

	out, err := c.backend.Generate(attemptCtx, prompt, params)
	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && KindOf(err) != KindTimeout {
			return nil, &BackendError{Backend: c.backend.Name(), Kind: KindTimeout, Err: err}
		}
		return nil, err
	}
	if out == nil {
		out = &Completion{}
	}
	return out, nil
}

func (c *Client) withDefaults(p Params) Params {
	d := c.cfg.Params
	if p.MaxOutputTokens <= 0 || p.MaxOutputTokens > d.MaxOutputTokens {
		p.MaxOutputTokens = d.MaxOutputTokens
	}
	if p.Temperature == 0 {
		p.Temperature = d.Temperature
	}
	if p.TopP == 0 {
		p.TopP = d.TopP
	}
	if p.RepetitionPenalty == 0 {
		p.RepetitionPenalty = d.RepetitionPenalty
	}
	return p
}

// Close releases the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

func attemptKind(err error) string {
	if errors.Is(err, ErrBackendClosed) {
		return "closed"
	}
	return string(KindOf(err))
}
