package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/fyrsmithlabs/notesrag/internal/sanitize"
	"github.com/fyrsmithlabs/notesrag/internal/tokens"
	"github.com/fyrsmithlabs/notesrag/internal/vectorstore"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidDocument is returned for a document without text.
	ErrInvalidDocument = errors.New("invalid document")

	// chunkNamespace seeds chunk IDs so re-ingesting a note yields the same IDs.
	chunkNamespace = uuid.MustParse("5b0e5f1c-3f7a-4c55-9a43-6f1ad0b2c7e4")
)

const defaultBatchSize = 32

// Document is one note as read from an ingest file.
type Document struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Author     string   `json:"author,omitempty"`
	Date       string   `json:"date,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	References []string `json:"references,omitempty"`
	Text       string   `json:"text"`
}

// ReadDocuments decodes a JSON array of documents.
func ReadDocuments(r io.Reader) ([]Document, error) {
	var docs []Document
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decoding documents: %w", err)
	}
	return docs, nil
}

// Embedder embeds chunk texts.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Writer replaces a document's stored chunks.
type Writer interface {
	ReplaceDocument(ctx context.Context, ownerID int64, documentID string, chunks []vectorstore.Chunk) (int, error)
}

// Config tunes an Ingester. Zero values take the defaults.
type Config struct {
	Window    int
	Overlap   int
	BatchSize int
}

// Ingester turns documents into stored chunks.
type Ingester struct {
	embedder Embedder
	store    Writer
	counter  tokens.Counter
	cfg      Config
	logger   *logging.Logger
}

// New creates an Ingester.
func New(embedder Embedder, store Writer, counter tokens.Counter, cfg Config, logger *logging.Logger) *Ingester {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Ingester{
		embedder: embedder,
		store:    store,
		counter:  counter,
		cfg:      cfg,
		logger:   logger.Named("ingest"),
	}
}

// Ingest replaces the stored chunks of doc for ownerID and returns how many
// chunks were written.
func (in *Ingester) Ingest(ctx context.Context, ownerID int64, doc Document) (int, error) {
	if err := sanitize.OwnerID(ownerID); err != nil {
		return 0, err
	}
	docID := sanitize.Identifier(doc.ID)
	if doc.ID == "" {
		docID = sanitize.Identifier(doc.Title)
	}

	pieces := Split(in.counter, doc.Text, in.cfg.Window, in.cfg.Overlap)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("%w: document %q has no text", ErrInvalidDocument, docID)
	}

	source := vectorstore.SourceMetadata{
		Title:      sanitize.Text(doc.Title),
		Author:     sanitize.Text(doc.Author),
		Date:       sanitize.Text(doc.Date),
		Tags:       doc.Tags,
		References: doc.References,
	}

	chunks := make([]vectorstore.Chunk, 0, len(pieces))
	for start := 0; start < len(pieces); start += in.cfg.BatchSize {
		end := min(start+in.cfg.BatchSize, len(pieces))
		vectors, err := in.embedder.EmbedDocuments(ctx, pieces[start:end])
		if err != nil {
			return 0, fmt.Errorf("embedding %s: %w", docID, err)
		}
		for i, v := range vectors {
			seq := start + i
			chunks = append(chunks, vectorstore.Chunk{
				ID:         ChunkID(ownerID, docID, seq),
				OwnerID:    ownerID,
				DocumentID: docID,
				Sequence:   seq,
				Text:       pieces[seq],
				Embedding:  v,
				Source:     source,
			})
		}
	}

	removed, err := in.store.ReplaceDocument(ctx, ownerID, docID, chunks)
	if err != nil {
		return 0, fmt.Errorf("storing %s: %w", docID, err)
	}

	in.logger.Info(ctx, "document ingested",
		zap.String("document_id", docID),
		zap.Int("chunks", len(chunks)),
		zap.Int("stale_removed", removed),
	)
	return len(chunks), nil
}

// ChunkID derives a stable chunk ID from its owner, document and position.
func ChunkID(ownerID int64, documentID string, sequence int) string {
	name := strconv.FormatInt(ownerID, 10) + "/" + documentID + "/" + strconv.Itoa(sequence)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}
