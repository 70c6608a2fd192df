package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"unavailable", status.Error(grpccodes.Unavailable, "down"), true},
		{"deadline", status.Error(grpccodes.DeadlineExceeded, "slow"), true},
		{"resource exhausted", status.Error(grpccodes.ResourceExhausted, "busy"), true},
		{"invalid argument", status.Error(grpccodes.InvalidArgument, "bad"), false},
		{"not found", status.Error(grpccodes.NotFound, "missing"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestQdrantConfig_Defaults(t *testing.T) {
	var cfg QdrantConfig
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, "note_chunks", cfg.Collection)

	cfg.Collection = "Bad Name"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestOwnerFilter(t *testing.T) {
	f := ownerFilter(77)
	require.Len(t, f.GetMust(), 1)
	field := f.GetMust()[0].GetField()
	require.NotNil(t, field)
	assert.Equal(t, OwnerKey, field.GetKey())
	assert.Equal(t, int64(77), field.GetMatch().GetInteger())

	d := documentFilter(77, "doc-1")
	require.Len(t, d.GetMust(), 2)
	assert.Equal(t, int64(77), d.GetMust()[0].GetField().GetMatch().GetInteger())
	assert.Equal(t, "doc-1", d.GetMust()[1].GetField().GetMatch().GetKeyword())
}

func TestStaleFilter_ExcludesReplacementPoints(t *testing.T) {
	chunks := []Chunk{{ID: "c0"}, {ID: "c1"}}
	f := staleFilter(77, "doc-1", chunks)

	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, int64(77), f.GetMust()[0].GetField().GetMatch().GetInteger())
	assert.Equal(t, "doc-1", f.GetMust()[1].GetField().GetMatch().GetKeyword())

	require.Len(t, f.GetMustNot(), 1)
	ids := f.GetMustNot()[0].GetHasId().GetHasId()
	require.Len(t, ids, 2)
	assert.Equal(t, pointID("c0").GetUuid(), ids[0].GetUuid())
	assert.Equal(t, pointID("c1").GetUuid(), ids[1].GetUuid())
}

func TestChunkPayloadRoundTrip(t *testing.T) {
	c := Chunk{
		ID:         "c9",
		OwnerID:    12,
		DocumentID: "doc-9",
		Sequence:   4,
		Text:       "Hope does not disappoint.",
		Source: SourceMetadata{
			Title:      "Hope",
			Author:     "Paul",
			Date:       "2023-11-02",
			Tags:       []string{"hope"},
			References: []string{"Romans 5:5"},
		},
	}
	got, err := chunkFromPayload(chunkPayload(c))
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestChunkFromPayload_RequiresOwner(t *testing.T) {
	p := chunkPayload(Chunk{ID: "x", OwnerID: 3})
	delete(p, OwnerKey)
	_, err := chunkFromPayload(p)
	assert.Error(t, err)

	p = chunkPayload(Chunk{ID: "x", OwnerID: 3})
	p[OwnerKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: "3"}}
	_, err = chunkFromPayload(p)
	assert.Error(t, err, "owner must be an integer payload")
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, pointID("chunk-1").GetUuid(), pointID("chunk-1").GetUuid())
	assert.NotEqual(t, pointID("chunk-1").GetUuid(), pointID("chunk-2").GetUuid())
}

func TestQdrantStore_RetryOperation(t *testing.T) {
	s := &QdrantStore{cfg: QdrantConfig{MaxRetries: 2, RetryBackoff: time.Millisecond}, logger: nopLogger()}

	calls := 0
	err := s.retryOperation(context.Background(), "query", func() error {
		calls++
		if calls < 3 {
			return status.Error(grpccodes.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = s.retryOperation(context.Background(), "query", func() error {
		calls++
		return status.Error(grpccodes.InvalidArgument, "bad vector")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")
	assert.Contains(t, err.Error(), "permanent")
}
