package generation

import (
	"context"
	"sync"
	"sync/atomic"
)

// scriptedBackend returns scripted results in order, repeating the last.
type scriptedBackend struct {
	mu      sync.Mutex
	script  []func(ctx context.Context) (*Completion, error)
	calls   atomic.Int32
	prompts []string
	params  []Params
	closed  bool
}

func (b *scriptedBackend) Name() string { return "scripted" }

func (b *scriptedBackend) Generate(ctx context.Context, prompt string, params Params) (*Completion, error) {
	n := int(b.calls.Add(1)) - 1
	b.mu.Lock()
	b.prompts = append(b.prompts, prompt)
	b.params = append(b.params, params)
	if n >= len(b.script) {
		n = len(b.script) - 1
	}
	step := b.script[n]
	b.mu.Unlock()
	return step(ctx)
}

func (b *scriptedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func reply(text string) func(context.Context) (*Completion, error) {
	return func(context.Context) (*Completion, error) { return &Completion{Text: text}, nil }
}

func fail(kind ErrorKind) func(context.Context) (*Completion, error) {
	return func(context.Context) (*Completion, error) {
		return nil, &BackendError{Backend: "scripted", Kind: kind, Err: errString(string(kind))}
	}
}

func hang() func(context.Context) (*Completion, error) {
	return func(ctx context.Context) (*Completion, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type errString string

func (e errString) Error() string { return string(e) }
