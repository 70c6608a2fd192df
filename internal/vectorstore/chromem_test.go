package vectorstore

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

func newTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{Dimension: testDim}, nil)
	require.NoError(t, err)
	return store
}

func randomVector(r *rand.Rand) []float32 {
	v := make([]float32, testDim)
	for i := range v {
		v[i] = r.Float32() + 0.01
	}
	return v
}

func TestChromemStore_RoundTripsMetadata(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()

	vec := []float32{1, 0, 0, 0, 0, 0, 0, 0}
	require.NoError(t, store.AddChunks(ctx, []Chunk{{
		ID:         "c1",
		OwnerID:    42,
		DocumentID: "doc-grace",
		Sequence:   2,
		Text:       "Grace is unmerited favor.",
		Embedding:  vec,
		Source: SourceMetadata{
			Title:      "On Grace",
			Author:     "Paul",
			Date:       "2024-03-01",
			Tags:       []string{"grace", "faith, hope"},
			References: []string{"Ephesians 2:8"},
		},
	}}))

	matches, err := store.NearestChunks(ctx, 42, vec, 5)
	require.NoError(t, err)
	require.Len(t, matches, 1)

	got := matches[0]
	assert.Equal(t, "c1", got.Chunk.ID)
	assert.Equal(t, int64(42), got.Chunk.OwnerID)
	assert.Equal(t, "doc-grace", got.Chunk.DocumentID)
	assert.Equal(t, 2, got.Chunk.Sequence)
	assert.Equal(t, []string{"grace", "faith, hope"}, got.Chunk.Source.Tags)
	assert.Equal(t, []string{"Ephesians 2:8"}, got.Chunk.Source.References)
	assert.InDelta(t, 1.0, got.Score, 1e-5)
}

func TestChromemStore_EmptyStore(t *testing.T) {
	store := newTestChromem(t)
	matches, err := store.NearestChunks(context.Background(), 1, make([]float32, testDim), 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_FailsClosedWithoutOwner(t *testing.T) {
	store := newTestChromem(t)
	_, err := store.NearestChunks(context.Background(), 0, make([]float32, testDim), 10)
	assert.ErrorIs(t, err, ErrMissingOwner)
}

// Two owners share one collection with interleaved, overlapping vectors.
// Whatever the query, results only ever carry the queried owner.
func TestChromemStore_OwnerIsolationFuzz(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(42))

	owners := []int64{101, 202}
	var chunks []Chunk
	for i := 0; i < 60; i++ {
		owner := owners[i%2]
		chunks = append(chunks, Chunk{
			ID:         fmt.Sprintf("chunk-%d", i),
			OwnerID:    owner,
			DocumentID: fmt.Sprintf("doc-%d", i/4),
			Text:       fmt.Sprintf("note %d of owner %d", i, owner),
			Embedding:  randomVector(r),
		})
	}
	require.NoError(t, store.AddChunks(ctx, chunks))

	for i := 0; i < 200; i++ {
		owner := owners[r.Intn(2)]
		k := 1 + r.Intn(80)
		matches, err := store.NearestChunks(ctx, owner, randomVector(r), k)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(matches), 30)
		for _, m := range matches {
			require.Equal(t, owner, m.Chunk.OwnerID, "iteration %d leaked chunk %s", i, m.Chunk.ID)
		}
	}

	// an owner with no chunks sees nothing, even with a dense store
	matches, err := store.NearestChunks(ctx, 303, randomVector(r), 10)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_DeleteDocumentIsOwnerScoped(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(1))

	require.NoError(t, store.AddChunks(ctx, []Chunk{
		{ID: "a1", OwnerID: 1, DocumentID: "shared", Text: "a1", Embedding: randomVector(r)},
		{ID: "a2", OwnerID: 1, DocumentID: "shared", Text: "a2", Embedding: randomVector(r)},
		{ID: "b1", OwnerID: 2, DocumentID: "shared", Text: "b1", Embedding: randomVector(r)},
	}))

	n, err := store.DeleteDocument(ctx, 1, "shared")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := store.NearestChunks(ctx, 2, randomVector(r), 5)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b1", left[0].Chunk.ID)

	gone, err := store.NearestChunks(ctx, 1, randomVector(r), 5)
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestChromemStore_ReplaceDocument(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(9))

	version := func(texts ...string) []Chunk {
		out := make([]Chunk, len(texts))
		for i, text := range texts {
			out[i] = Chunk{ID: fmt.Sprintf("n1-%d", i), OwnerID: 1, DocumentID: "n1", Sequence: i, Text: text, Embedding: randomVector(r)}
		}
		return out
	}
	require.NoError(t, store.AddChunks(ctx, []Chunk{
		{ID: "other", OwnerID: 2, DocumentID: "n1", Text: "someone else's n1", Embedding: randomVector(r)},
	}))

	removed, err := store.ReplaceDocument(ctx, 1, "n1", version("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = store.ReplaceDocument(ctx, 1, "n1", version("shorter"))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	matches, err := store.NearestChunks(ctx, 1, randomVector(r), 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "shorter", matches[0].Chunk.Text)

	others, err := store.NearestChunks(ctx, 2, randomVector(r), 10)
	require.NoError(t, err)
	assert.Len(t, others, 1, "another owner's document of the same name is untouched")
}

func TestChromemStore_ReplaceDocumentRejectsForeignChunks(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()
	vec := randomVector(rand.New(rand.NewSource(2)))

	_, err := store.ReplaceDocument(ctx, 1, "n1", []Chunk{{ID: "x", OwnerID: 2, DocumentID: "n1", Embedding: vec}})
	assert.ErrorIs(t, err, ErrForeignChunk)

	_, err = store.ReplaceDocument(ctx, 1, "n1", []Chunk{{ID: "x", OwnerID: 1, DocumentID: "n2", Embedding: vec}})
	assert.ErrorIs(t, err, ErrForeignChunk)

	_, err = store.ReplaceDocument(ctx, 0, "n1", []Chunk{{ID: "x", OwnerID: 1, DocumentID: "n1", Embedding: vec}})
	assert.ErrorIs(t, err, ErrMissingOwner)
	assert.Equal(t, 0, store.collection.Count())
}

// Queries racing deletes never ask chromem for more results than it holds.
func TestChromemStore_QueriesSurviveConcurrentDeletes(t *testing.T) {
	store := newTestChromem(t)
	ctx := context.Background()
	r := rand.New(rand.NewSource(11))

	var chunks []Chunk
	for i := 0; i < 200; i++ {
		chunks = append(chunks, Chunk{ID: fmt.Sprintf("c%d", i), OwnerID: 1, DocumentID: fmt.Sprintf("d%d", i), Text: "t", Embedding: randomVector(r)})
	}
	require.NoError(t, store.AddChunks(ctx, chunks))

	query := randomVector(r)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			_, _ = store.DeleteDocument(ctx, 1, fmt.Sprintf("d%d", i))
		}
	}()
	for {
		select {
		case <-done:
			return
		default:
		}
		_, err := store.NearestChunks(ctx, 1, query, 200)
		require.NoError(t, err)
	}
}

func TestChromemStore_Persists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewChromemStore(ChromemConfig{Path: dir, Dimension: testDim}, nil)
	require.NoError(t, err)
	vec := randomVector(rand.New(rand.NewSource(3)))
	require.NoError(t, store.AddChunks(ctx, []Chunk{{ID: "p1", OwnerID: 5, DocumentID: "d", Text: "kept", Embedding: vec}}))
	require.NoError(t, store.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, Dimension: testDim}, nil)
	require.NoError(t, err)
	matches, err := reopened.NearestChunks(ctx, 5, vec, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "kept", matches[0].Chunk.Text)
}
