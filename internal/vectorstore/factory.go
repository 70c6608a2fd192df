package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/notesrag/internal/config"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"go.uber.org/zap"
)

// NewStore builds the configured store. The postgres store also ensures its
// schema so a fresh database is usable immediately.
func NewStore(ctx context.Context, cfg config.StoreConfig, dimension int, logger *logging.Logger) (Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	logger.Info(ctx, "initializing chunk store", zap.String("provider", provider), zap.Int("dimension", dimension))

	switch provider {
	case "postgres", "pgvector":
		store, err := NewPostgresStore(ctx, PostgresConfig{
			DSN:       cfg.PostgresDSN.Value(),
			Table:     cfg.PostgresTable,
			Dimension: dimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil

	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey.Value(),
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.QdrantCollection,
			Dimension:  dimension,
		}, logger)

	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.ChromemPath,
			Compress:   cfg.ChromemCompress,
			Collection: cfg.ChromemCollection,
			Dimension:  dimension,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported store provider %q (supported: postgres, qdrant, chromem)", ErrInvalidConfig, cfg.Provider)
	}
}
