package vectorstore

import (
	"fmt"
	"strconv"
)

// OwnerKey is the metadata/payload/column name carrying the owner identity.
const OwnerKey = "owner_id"

// requireOwner fails closed on a missing or non-positive owner.
func requireOwner(ownerID int64) error {
	if ownerID <= 0 {
		return fmt.Errorf("%w: %d", ErrMissingOwner, ownerID)
	}
	return nil
}

// requireDimension checks a vector against the configured dimension.
func requireDimension(vector []float32, dim int) error {
	if len(vector) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), dim)
	}
	return nil
}

// validateChunks checks an ingest batch before any write.
func validateChunks(chunks []Chunk, dim int) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	for i, c := range chunks {
		if err := requireOwner(c.OwnerID); err != nil {
			return fmt.Errorf("chunk %d (%s): %w", i, c.ID, err)
		}
		if c.ID == "" || c.DocumentID == "" {
			return fmt.Errorf("chunk %d: id and document_id are required", i)
		}
		if err := requireDimension(c.Embedding, dim); err != nil {
			return fmt.Errorf("chunk %d (%s): %w", i, c.ID, err)
		}
	}
	return nil
}

// validateReplacement checks that every chunk belongs to the document being
// replaced.
func validateReplacement(ownerID int64, documentID string, chunks []Chunk, dim int) error {
	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if documentID == "" {
		return fmt.Errorf("%w: document id is required", ErrForeignChunk)
	}
	if err := validateChunks(chunks, dim); err != nil {
		return err
	}
	for i, c := range chunks {
		if c.OwnerID != ownerID || c.DocumentID != documentID {
			return fmt.Errorf("%w: chunk %d (%s) has owner %d document %q, want owner %d document %q",
				ErrForeignChunk, i, c.ID, c.OwnerID, c.DocumentID, ownerID, documentID)
		}
	}
	return nil
}

func chunkIDs(chunks []Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	return ids
}

// ownerWhere builds the string-valued where clause used by chromem.
func ownerWhere(ownerID int64) map[string]string {
	return map[string]string{OwnerKey: strconv.FormatInt(ownerID, 10)}
}

// clampScore keeps a similarity inside [0,1].
func clampScore(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}
