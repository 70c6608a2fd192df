// Package vectorstore holds note chunks and answers owner-scoped
// nearest-neighbour queries against an external vector index.
//
// Owner isolation is enforced inside the ranking query of every store: the
// owner predicate is part of the same SQL statement, Qdrant filter, or
// chromem where-clause that orders by similarity. Stores never fetch an
// unscoped candidate set and filter it afterwards.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrMissingOwner is returned when an operation lacks a valid owner. Stores
	// fail closed and issue no query.
	ErrMissingOwner = errors.New("owner identity missing or invalid")

	// ErrDimensionMismatch is returned when a vector has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid store configuration")

	// ErrEmptyChunks indicates an empty ingest batch.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrForeignChunk indicates a replacement chunk that belongs to another
	// owner or document.
	ErrForeignChunk = errors.New("chunk does not belong to the replaced document")

	// ErrConnectionFailed indicates the backing index is unreachable.
	ErrConnectionFailed = errors.New("vector store connection failed")
)

// SourceMetadata describes the note a chunk was cut from.
type SourceMetadata struct {
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Date       string   `json:"date,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	References []string `json:"references,omitempty"`
}

// Chunk is an immutable slice of a note with its embedding. A chunk belongs
// to exactly one owner and lives until its parent document is deleted.
type Chunk struct {
	ID         string         `json:"id"`
	OwnerID    int64          `json:"owner_id"`
	DocumentID string         `json:"document_id"`
	Sequence   int            `json:"sequence"`
	Text       string         `json:"text"`
	Embedding  []float32      `json:"-"`
	Source     SourceMetadata `json:"source"`
}

// Match is a chunk returned by a similarity query with its cosine
// similarity (1 - cosine distance).
type Match struct {
	Chunk Chunk
	Score float64
}

// Store is the chunk storage contract shared by every backend.
type Store interface {
	// NearestChunks returns up to k chunks owned by ownerID, nearest to
	// vector first. The owner predicate is applied inside the ranking query.
	NearestChunks(ctx context.Context, ownerID int64, vector []float32, k int) ([]Match, error)

	// AddChunks stores chunks. Existing chunk IDs are replaced.
	AddChunks(ctx context.Context, chunks []Chunk) error

	// DeleteDocument removes every chunk of documentID owned by ownerID and
	// returns how many were removed when the backend reports it.
	DeleteDocument(ctx context.Context, ownerID int64, documentID string) (int, error)

	// ReplaceDocument writes chunks as the new content of documentID, then
	// removes the document's chunks that are not among them. A failed write
	// leaves the previous chunks in place. It returns how many stale chunks
	// were removed.
	ReplaceDocument(ctx context.Context, ownerID int64, documentID string, chunks []Chunk) (int, error)

	// Ping checks that the backing index is reachable.
	Ping(ctx context.Context) error

	// Close releases connections.
	Close() error
}
