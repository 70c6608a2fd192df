package generation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/knights-analytics/hugot/pipelines"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLocalBackend_RequiresModelPath(t *testing.T) {
	_, err := NewLocalBackend(LocalConfig{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLocalConfig_BoundsDecoding(t *testing.T) {
	tests := []struct {
		name   string
		maxNew int
		want   int
	}{
		{"default", 0, DefaultMaxNewTokens},
		{"configured", 128, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LocalConfig{ModelPath: "/models/gen", MaxNewTokens: tt.maxNew}.pipelineConfig()
			assert.Equal(t, "/models/gen", cfg.ModelPath)

			p := &pipelines.TextGenerationPipeline{}
			for _, opt := range cfg.Options {
				require.NoError(t, opt(p))
			}
			assert.Equal(t, tt.want, p.MaxLength)
		})
	}
}

func TestLocalBackend_Generate(t *testing.T) {
	b := newLocalBackend(func(_ context.Context, prompt string) (string, error) {
		return "echo: " + prompt, nil
	}, 1, nil, nil)

	out, err := b.Generate(context.Background(), "hello", Params{})
	require.NoError(t, err)
	assert.Equal(t, "echo: hello", out.Text)
	assert.Equal(t, "local", b.Name())
}

func TestLocalBackend_PoolBoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	b := newLocalBackend(func(context.Context, string) (string, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return "done", nil
	}, 2, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := b.Generate(context.Background(), "p", Params{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestLocalBackend_SlotReleasedOnFailure(t *testing.T) {
	calls := 0
	b := newLocalBackend(func(context.Context, string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("onnx runtime error")
		}
		return "recovered", nil
	}, 1, nil, nil)

	_, err := b.Generate(context.Background(), "p", Params{})
	require.Error(t, err)
	assert.Equal(t, KindUnknown, KindOf(err))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, err := b.Generate(ctx, "p", Params{})
	require.NoError(t, err, "the failed call must have freed its slot")
	assert.Equal(t, "recovered", out.Text)
}

func TestLocalBackend_WaitingForSlotHonorsContext(t *testing.T) {
	release := make(chan struct{})
	b := newLocalBackend(func(context.Context, string) (string, error) {
		<-release
		return "late", nil
	}, 1, nil, nil)

	go func() { _, _ = b.Generate(context.Background(), "first", Params{}) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Generate(ctx, "second", Params{})
	assert.Equal(t, KindTimeout, KindOf(err))
	close(release)
}

func TestLocalBackend_Close(t *testing.T) {
	released := 0
	b := newLocalBackend(func(context.Context, string) (string, error) { return "x", nil }, 1, func() error {
		released++
		return nil
	}, nil)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 1, released)

	_, err := b.Generate(context.Background(), "p", Params{})
	assert.ErrorIs(t, err, ErrBackendClosed)
}
