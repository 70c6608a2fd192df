package generation

import (
	"errors"
	"fmt"
)

var (
	// ErrGenerationFailed wraps backend failures after the retry policy gave up.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrGenerationTimeout is returned when the overall generation deadline expires.
	ErrGenerationTimeout = errors.New("generation timed out")

	// ErrInvalidOutput is returned for empty, too short or degenerate output.
	ErrInvalidOutput = errors.New("invalid generation output")

	// ErrInvalidConfig indicates an unusable generation configuration.
	ErrInvalidConfig = errors.New("invalid generation configuration")

	// ErrBackendClosed is returned by a backend after Close.
	ErrBackendClosed = errors.New("generation backend closed")
)

// ErrorKind classifies a backend failure for the retry policy.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindRateLimited ErrorKind = "rate_limited"
	KindUnavailable ErrorKind = "unavailable"
	KindAuth        ErrorKind = "auth"
	KindNotFound    ErrorKind = "not_found"
	KindBadRequest  ErrorKind = "bad_request"
	KindUnknown     ErrorKind = "unknown"
)

// Transient reports whether failures of this kind may succeed on retry.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindRateLimited, KindUnavailable:
		return true
	default:
		return false
	}
}

// BackendError is a classified backend failure.
type BackendError struct {
	Backend    string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s backend: %s (status %d): %v", e.Backend, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error, KindUnknown otherwise.
func KindOf(err error) ErrorKind {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}
