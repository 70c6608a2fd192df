package retrieval

import "errors"

var (
	// ErrInvalidQuery is returned for a wrong-dimension vector or an invalid owner.
	ErrInvalidQuery = errors.New("invalid retrieval query")

	// ErrRetrieval wraps any chunk store failure.
	ErrRetrieval = errors.New("retrieval failed")
)
