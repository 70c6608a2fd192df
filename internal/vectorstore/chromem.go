package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// metadata keys stored alongside each chromem document
const (
	metaDocumentID = "document_id"
	metaSequence   = "sequence"
	metaTitle      = "title"
	metaAuthor     = "author"
	metaDate       = "date"
	metaTags       = "tags"
	metaRefs       = "refs"
)

var errPrecomputedOnly = errors.New("chromem store accepts precomputed embeddings only")

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	Path       string
	Compress   bool
	Collection string
	Dimension  int
}

// ApplyDefaults fills unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "note_chunks"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
}

// Validate checks the configuration.
func (c ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if !tableNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, c.Collection)
	}
	return nil
}

// ChromemStore is the embedded store used for single-user installs and
// tests. The owner predicate is passed as chromem's where-clause, which is
// applied before similarity ranking.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	cfg        ChromemConfig
	logger     *logging.Logger

	// Deletes and replacements hold mu exclusively. Queries hold it shared
	// so the document count cannot shrink between the clamp and the query.
	mu sync.RWMutex
}

// NewChromemStore opens (or creates) the store.
func NewChromemStore(cfg ChromemConfig, logger *logging.Logger) (*ChromemStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrConnectionFailed, err)
		}
		cfg.Path = path
	}

	embed := func(context.Context, string) ([]float32, error) { return nil, errPrecomputedOnly }
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	s := &ChromemStore{db: db, collection: collection, cfg: cfg, logger: logger.Named("chromem")}
	s.logger.Info(context.Background(), "chromem store initialized",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("dimension", cfg.Dimension),
		zap.Int("chunks", collection.Count()),
	)
	return s, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// NearestChunks ranks the owner's chunks by cosine similarity.
func (s *ChromemStore) NearestChunks(ctx context.Context, ownerID int64, vector []float32, k int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.NearestChunks")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("k", k))

	start := time.Now()
	defer func() { observe("chromem", "query", start, err) }()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := requireDimension(vector, s.cfg.Dimension); err != nil {
		return nil, err
	}

	// chromem requires nResults <= document count
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := s.collection.Count()
	if k <= 0 || count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, vector, k, ownerWhere(ownerID), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.cfg.Collection, err)
	}

	matches = make([]Match, 0, len(results))
	for _, r := range results {
		chunk, err := chunkFromMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			s.logger.Warn(ctx, "skipping chunk with unreadable metadata", zap.String("chunk_id", r.ID), zap.Error(err))
			continue
		}
		matches = append(matches, Match{Chunk: chunk, Score: clampScore(float64(r.Similarity))})
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// AddChunks stores chunks with their precomputed embeddings.
func (s *ChromemStore) AddChunks(ctx context.Context, chunks []Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() { observe("chromem", "add", start, err) }()

	if err := validateChunks(chunks, s.cfg.Dimension); err != nil {
		return err
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		meta, err := chunkMetadata(c)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		embedding := make([]float32, len(c.Embedding))
		copy(embedding, c.Embedding)
		docs[i] = chromem.Document{
			ID:        c.ID,
			Metadata:  meta,
			Embedding: embedding,
			Content:   c.Text,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding chunks: %w", err)
	}
	return nil
}

// ReplaceDocument writes chunks first and only then deletes the document's
// other chunks, so a failed write keeps the previous version.
func (s *ChromemStore) ReplaceDocument(ctx context.Context, ownerID int64, documentID string, chunks []Chunk) (n int, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.ReplaceDocument")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() { observe("chromem", "replace", start, err) }()

	if err := validateReplacement(ownerID, documentID, chunks, s.cfg.Dimension); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.AddChunks(ctx, chunks); err != nil {
		return 0, err
	}

	where := ownerWhere(ownerID)
	where[metaDocumentID] = documentID
	// a filtered query over the whole collection lists the document's chunks
	current, err := s.collection.QueryEmbedding(ctx, chunks[0].Embedding, s.collection.Count(), where, nil)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("listing document %s: %w", documentID, err)
	}

	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ID] = struct{}{}
	}
	var stale []string
	for _, r := range current {
		if _, ok := keep[r.ID]; !ok {
			stale = append(stale, r.ID)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.collection.Delete(ctx, nil, nil, stale...); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("pruning document %s: %w", documentID, err)
	}
	return len(stale), nil
}

// DeleteDocument removes a document's chunks for one owner.
func (s *ChromemStore) DeleteDocument(ctx context.Context, ownerID int64, documentID string) (n int, err error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteDocument")
	defer span.End()

	start := time.Now()
	defer func() { observe("chromem", "delete", start, err) }()

	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	if documentID == "" {
		return 0, errors.New("document id is required")
	}

	where := ownerWhere(ownerID)
	where[metaDocumentID] = documentID

	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.collection.Count()
	if err := s.collection.Delete(ctx, where, nil); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return before - s.collection.Count(), nil
}

// Ping always succeeds for the embedded store.
func (s *ChromemStore) Ping(context.Context) error { return nil }

// Close is a no-op. Persistent collections are written on every change.
func (s *ChromemStore) Close() error { return nil }

func chunkMetadata(c Chunk) (map[string]string, error) {
	tags, err := json.Marshal(nonNil(c.Source.Tags))
	if err != nil {
		return nil, err
	}
	refs, err := json.Marshal(nonNil(c.Source.References))
	if err != nil {
		return nil, err
	}
	return map[string]string{
		OwnerKey:       strconv.FormatInt(c.OwnerID, 10),
		metaDocumentID: c.DocumentID,
		metaSequence:   strconv.Itoa(c.Sequence),
		metaTitle:      c.Source.Title,
		metaAuthor:     c.Source.Author,
		metaDate:       c.Source.Date,
		metaTags:       string(tags),
		metaRefs:       string(refs),
	}, nil
}

func chunkFromMetadata(id, content string, meta map[string]string) (Chunk, error) {
	owner, err := strconv.ParseInt(meta[OwnerKey], 10, 64)
	if err != nil {
		return Chunk{}, fmt.Errorf("owner_id: %w", err)
	}
	seq, _ := strconv.Atoi(meta[metaSequence])

	c := Chunk{
		ID:         id,
		OwnerID:    owner,
		DocumentID: meta[metaDocumentID],
		Sequence:   seq,
		Text:       content,
		Source: SourceMetadata{
			Title:  meta[metaTitle],
			Author: meta[metaAuthor],
			Date:   meta[metaDate],
		},
	}
	if v := meta[metaTags]; v != "" {
		if err := json.Unmarshal([]byte(v), &c.Source.Tags); err != nil {
			return Chunk{}, fmt.Errorf("tags: %w", err)
		}
	}
	if v := meta[metaRefs]; v != "" {
		if err := json.Unmarshal([]byte(v), &c.Source.References); err != nil {
			return Chunk{}, fmt.Errorf("refs: %w", err)
		}
	}
	return c, nil
}
