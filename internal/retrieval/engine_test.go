package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const dim = 4

type fakeStore struct {
	matches []vectorstore.Match
	err     error

	calls   int
	lastK   int
	lastOwn int64
}

func (f *fakeStore) NearestChunks(_ context.Context, ownerID int64, _ []float32, k int) ([]vectorstore.Match, error) {
	f.calls++
	f.lastK = k
	f.lastOwn = ownerID
	if f.err != nil {
		return nil, f.err
	}
	if len(f.matches) > k {
		return f.matches[:k], nil
	}
	return f.matches, nil
}

func match(id string, owner int64, score float64) vectorstore.Match {
	return vectorstore.Match{Chunk: vectorstore.Chunk{ID: id, OwnerID: owner, DocumentID: "doc-" + id}, Score: score}
}

func newEngine(t *testing.T, store ChunkStore) *Engine {
	t.Helper()
	e, err := NewEngine(store, Config{Dimension: dim}, nil)
	require.NoError(t, err)
	return e
}

func ids(chunks []RetrievedChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func TestRetrieve_PartitionsAndSorts(t *testing.T) {
	store := &fakeStore{matches: []vectorstore.Match{
		match("b", 1, 0.7),
		match("a", 1, 0.95),
		match("c", 1, 0.6),
		match("d", 1, 0.59),
		match("f", 1, 0.2),
		match("e", 1, 0.2),
	}}
	tiers, err := newEngine(t, store).Retrieve(context.Background(), make([]float32, dim), 1, 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c"}, ids(tiers.High), "threshold is inclusive")
	assert.Equal(t, []string{"d", "e", "f"}, ids(tiers.Low), "ties break by id")
}

func TestRetrieve_NoChunksIsNotAnError(t *testing.T) {
	tiers, err := newEngine(t, &fakeStore{}).Retrieve(context.Background(), make([]float32, dim), 9, 5)
	require.NoError(t, err)
	assert.True(t, tiers.Empty())
	assert.NotNil(t, tiers.High)
	assert.NotNil(t, tiers.Low)
}

func TestRetrieve_TopKBounds(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultTopK},
		{-3, DefaultTopK},
		{7, 7},
		{MaxTopK, MaxTopK},
		{10_000, MaxTopK},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.in), func(t *testing.T) {
			store := &fakeStore{}
			_, err := newEngine(t, store).Retrieve(context.Background(), make([]float32, dim), 1, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, store.lastK)
		})
	}
}

func TestRetrieve_InvalidInputNeverReachesStore(t *testing.T) {
	store := &fakeStore{}
	e := newEngine(t, store)

	_, err := e.Retrieve(context.Background(), make([]float32, dim), 0, 5)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = e.Retrieve(context.Background(), make([]float32, dim+1), 1, 5)
	assert.ErrorIs(t, err, ErrInvalidQuery)

	assert.Zero(t, store.calls)
}

func TestRetrieve_StoreFailureSurfaces(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	_, err := newEngine(t, store).Retrieve(context.Background(), make([]float32, dim), 1, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRetrieve_DropsForeignRows(t *testing.T) {
	logger := logging.NewTestLogger()
	store := &fakeStore{matches: []vectorstore.Match{
		match("mine", 5, 0.9),
		match("theirs", 6, 0.99),
	}}
	e, err := NewEngine(store, Config{Dimension: dim}, logger.Logger)
	require.NoError(t, err)

	tiers, err := e.Retrieve(context.Background(), make([]float32, dim), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"mine"}, ids(tiers.High))
	logger.AssertLogged(t, zapcore.ErrorLevel, "another owner")
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, Config{Dimension: dim}, nil)
	assert.Error(t, err)
	_, err = NewEngine(&fakeStore{}, Config{}, nil)
	assert.Error(t, err)
	_, err = NewEngine(&fakeStore{}, Config{Dimension: dim, Threshold: 1.5}, nil)
	assert.Error(t, err)

	e, err := NewEngine(&fakeStore{}, Config{Dimension: dim}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultThreshold, e.Threshold())
}

// Two owners with interleaved chunks in a real embedded store: retrieval
// for one owner never yields the other's chunks, whatever the vector.
func TestRetrieve_TwoOwnerFuzz(t *testing.T) {
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Dimension: dim}, nil)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(2024))
	vec := func() []float32 {
		v := make([]float32, dim)
		for i := range v {
			v[i] = r.Float32()*2 - 1
		}
		v[0] += 0.05
		return v
	}

	ownerA, ownerB := int64(11), int64(12)
	var chunks []vectorstore.Chunk
	for i := 0; i < 80; i++ {
		owner := ownerA
		if r.Intn(2) == 0 {
			owner = ownerB
		}
		chunks = append(chunks, vectorstore.Chunk{
			ID:         fmt.Sprintf("c%03d", i),
			OwnerID:    owner,
			DocumentID: fmt.Sprintf("d%d", i%7),
			Text:       "text",
			Embedding:  vec(),
		})
	}
	require.NoError(t, store.AddChunks(context.Background(), chunks))

	e, err := NewEngine(store, Config{Dimension: dim, Threshold: 0.5}, nil)
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		owner := ownerA
		if i%2 == 1 {
			owner = ownerB
		}
		tiers, err := e.Retrieve(context.Background(), vec(), owner, 1+r.Intn(MaxTopK))
		require.NoError(t, err)
		for _, c := range append(tiers.High, tiers.Low...) {
			require.Equal(t, owner, c.OwnerID, "iteration %d", i)
		}
	}
}
