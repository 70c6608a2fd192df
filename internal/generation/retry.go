package generation

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how often and how soon a failed call is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 mean 1.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter is the randomization factor applied to each delay.
	Jitter float64
	// Retryable reports whether an error may succeed on another attempt.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient backend errors three times in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2,
		Jitter:         0.2,
		Retryable:      IsRetryable,
	}
}

// IsRetryable retries classified transient backend errors only. Output
// validation failures and unclassified errors are final.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrInvalidOutput) || errors.Is(err, ErrBackendClosed) {
		return false
	}
	return KindOf(err).Transient()
}

// NewBackOff returns the delay schedule of the policy.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	// attempts, not elapsed time, bound the policy; the caller's context bounds time
	b.MaxElapsedTime = 0
	b.Reset()

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Do runs op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. notify, if set, is called before each retry.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error, notify func(err error, wait time.Duration)) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	operation := func() error {
		err := op(ctx)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(operation, backoff.WithContext(p.NewBackOff(), ctx), notify)
}
