// Package generation turns an assembled prompt into validated answer text
// using an in-process or remote text model.
package generation

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/notesrag/internal/config"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
)

// Params are the sampling parameters of one call.
type Params struct {
	MaxOutputTokens   int
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
}

// Completion is the raw output of a backend call.
type Completion struct {
	Text string
	// TruncatedByLength is set when the backend stopped at the token limit.
	TruncatedByLength bool
}

// Backend is a text model. One instance serves concurrent calls for the
// life of the process.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string, params Params) (*Completion, error)
	Close() error
}

// NewBackend builds the backend selected in configuration. maxOutputTokens
// bounds decoding for backends that generate in process.
func NewBackend(cfg config.GenerationConfig, maxOutputTokens int, logger *logging.Logger) (Backend, error) {
	switch strings.ToLower(cfg.Backend) {
	case "local":
		return NewLocalBackend(LocalConfig{ModelPath: cfg.ModelPath, Workers: cfg.Workers, MaxNewTokens: maxOutputTokens}, logger)
	case "remote", "":
		return NewRemoteBackend(RemoteConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			RateLimit: cfg.RateLimit,
			Burst:     cfg.Burst,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q (supported: local, remote)", ErrInvalidConfig, cfg.Backend)
	}
}
