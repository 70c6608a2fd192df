package embeddings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHugotProvider_Embed(t *testing.T) {
	var batches [][]string
	p := newHugotProvider(func(texts []string) ([][]float32, error) {
		batches = append(batches, texts)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{float32(len(texts[i])), 0, 1}
		}
		return out, nil
	}, 3, nil)

	v, err := p.EmbedQuery(context.Background(), "grace")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 0, 1}, v)

	vs, err := p.EmbedDocuments(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, vs, 2)
	assert.Equal(t, [][]string{{"grace"}, {"a", "bb"}}, batches)
}

func TestHugotProvider_RejectsEmptyInput(t *testing.T) {
	p := newHugotProvider(func([]string) ([][]float32, error) { return nil, nil }, 3, nil)

	_, err := p.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestHugotProvider_Failures(t *testing.T) {
	p := newHugotProvider(func([]string) ([][]float32, error) { return nil, errors.New("onnx") }, 3, nil)
	_, err := p.EmbedQuery(context.Background(), "grace")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	short := newHugotProvider(func([]string) ([][]float32, error) { return [][]float32{}, nil }, 3, nil)
	_, err = short.EmbedQuery(context.Background(), "grace")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.EmbedQuery(ctx, "grace")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHugotProvider_SerializesRuns(t *testing.T) {
	var active, peak atomic.Int32
	p := newHugotProvider(func(texts []string) ([][]float32, error) {
		n := active.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return [][]float32{{1}}, nil
	}, 1, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.EmbedQuery(context.Background(), "grace")
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak.Load())
}

func TestHugotProvider_Close(t *testing.T) {
	released := 0
	p := newHugotProvider(func([]string) ([][]float32, error) { return [][]float32{{1}}, nil }, 1, func() error {
		released++
		return nil
	})
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.Equal(t, 1, released)

	_, err := p.EmbedQuery(context.Background(), "grace")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}
