package orchestrator

import "errors"

var (
	// ErrInvalidInput indicates an empty or oversized query or a bad owner.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbedding indicates the query could not be embedded.
	ErrEmbedding = errors.New("query embedding failed")

	// ErrRetrieval indicates the chunk store failed.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrGeneration indicates the model failed or produced unusable output.
	ErrGeneration = errors.New("generation failed")

	// ErrGenerationTimeout indicates the generation deadline expired.
	ErrGenerationTimeout = errors.New("generation timed out")
)
