package embeddings

import (
	"context"
	"errors"
)

type fakeProvider struct {
	dim     int
	vectors [][]float32
	err     error
	closed  bool
}

func (f *fakeProvider) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.vectors != nil {
		return f.vectors, nil
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		return nil, errors.New("no vectors")
	}
	return vs[0], nil
}

func (f *fakeProvider) Dimension() int { return f.dim }

func (f *fakeProvider) Close() error {
	f.closed = true
	return nil
}
