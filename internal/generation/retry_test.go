package generation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
		Retryable:      IsRetryable,
	}
}

func TestRetryPolicy_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	var notified []error
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &BackendError{Kind: KindRateLimited, StatusCode: 429, Err: errors.New("slow down")}
		}
		return nil
	}, func(err error, _ time.Duration) { notified = append(notified, err) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, notified, 2)
}

func TestRetryPolicy_StopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(context.Context) error {
		calls++
		return &BackendError{Kind: KindUnavailable, StatusCode: 503, Err: errors.New("down")}
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, KindUnavailable, KindOf(err))
}

func TestRetryPolicy_PermanentErrorsFailFast(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"auth", &BackendError{Kind: KindAuth, StatusCode: 401, Err: errors.New("bad key")}},
		{"not found", &BackendError{Kind: KindNotFound, StatusCode: 404, Err: errors.New("no model")}},
		{"bad request", &BackendError{Kind: KindBadRequest, StatusCode: 422, Err: errors.New("malformed")}},
		{"unknown", errors.New("something odd")},
		{"invalid output", ErrInvalidOutput},
		{"closed", ErrBackendClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
				calls++
				return tt.err
			}, nil)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryPolicy_SingleAttempt(t *testing.T) {
	calls := 0
	_ = fastPolicy(0).Do(context.Background(), func(context.Context) error {
		calls++
		return &BackendError{Kind: KindTimeout, Err: context.DeadlineExceeded}
	}, nil)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_HonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := fastPolicy(10)
	policy.InitialBackoff = time.Hour
	policy.MaxBackoff = time.Hour

	calls := 0
	err := policy.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return &BackendError{Kind: KindUnavailable, Err: errors.New("down")}
	}, nil)

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_CustomClassifier(t *testing.T) {
	policy := fastPolicy(4)
	policy.Retryable = func(error) bool { return true }

	calls := 0
	_ = policy.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("always")
	}, nil)
	assert.Equal(t, 4, calls)
}

func TestErrorKind_Transient(t *testing.T) {
	assert.True(t, KindTimeout.Transient())
	assert.True(t, KindRateLimited.Transient())
	assert.True(t, KindUnavailable.Transient())
	assert.False(t, KindAuth.Transient())
	assert.False(t, KindNotFound.Transient())
	assert.False(t, KindBadRequest.Transient())
	assert.False(t, KindUnknown.Transient())
}
