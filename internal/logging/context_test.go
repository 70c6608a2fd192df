package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_TraceCorrelation(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "answer")
	defer span.End()

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
}

func TestWithRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	assert.Equal(t, "", RequestIDFromContext(ctx))

	long := strings.Repeat("r", 300)
	ctx = WithRequestID(context.Background(), long)
	assert.Len(t, RequestIDFromContext(ctx), 128)
}

func TestOwnerIDFromContext(t *testing.T) {
	_, ok := OwnerIDFromContext(context.Background())
	assert.False(t, ok)

	id, ok := OwnerIDFromContext(WithOwnerID(context.Background(), 9))
	assert.True(t, ok)
	assert.Equal(t, int64(9), id)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	l := NewTestLogger()
	assert.Same(t, l.Logger, FromContext(WithLogger(context.Background(), l.Logger)))
}
