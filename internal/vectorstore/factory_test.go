package vectorstore

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/notesrag/internal/config"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() *logging.Logger { return logging.NewNop() }

func TestNewStore_Chromem(t *testing.T) {
	store, err := NewStore(context.Background(), config.StoreConfig{
		Provider:    "chromem",
		ChromemPath: t.TempDir(),
	}, testDim, nopLogger())
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*ChromemStore)
	assert.True(t, ok)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewStore_UnknownProvider(t *testing.T) {
	_, err := NewStore(context.Background(), config.StoreConfig{Provider: "elasticsearch"}, testDim, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewStore_PostgresRejectsBadTable(t *testing.T) {
	_, err := NewStore(context.Background(), config.StoreConfig{
		Provider:      "postgres",
		PostgresTable: "chunks;--",
	}, testDim, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
