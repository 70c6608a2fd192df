package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("notesrag.vectorstore")

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresConfig configures the pgvector-backed store.
type PostgresConfig struct {
	DSN       string
	Table     string
	Dimension int
	// MaxOpenConns bounds the connection pool. Default 10.
	MaxOpenConns int
}

// ApplyDefaults fills unset fields.
func (c *PostgresConfig) ApplyDefaults() {
	if c.Table == "" {
		c.Table = "note_chunks"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
}

// Validate checks the configuration. Table names are interpolated into SQL,
// so they are restricted to lower-case identifiers.
func (c PostgresConfig) Validate() error {
	if !tableNamePattern.MatchString(c.Table) {
		return fmt.Errorf("%w: table name must match %s, got %q", ErrInvalidConfig, tableNamePattern, c.Table)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// PostgresStore keeps chunks in a pgvector table and ranks them with the
// cosine distance operator.
type PostgresStore struct {
	db     *sql.DB
	cfg    PostgresConfig
	logger *logging.Logger

	nearestSQL string
	insertSQL  string
	deleteSQL  string
	pruneSQL   string
}

// NewPostgresStore opens a connection pool and verifies it.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *logging.Logger) (*PostgresStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	store, err := NewPostgresStoreFromDB(db, cfg, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing *sql.DB.
func NewPostgresStoreFromDB(db *sql.DB, cfg PostgresConfig, logger *logging.Logger) (*PostgresStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	return &PostgresStore{
		db:     db,
		cfg:    cfg,
		logger: logger.Named("postgres"),
		nearestSQL: fmt.Sprintf(`SELECT id, owner_id, document_id, sequence, content, title, author, note_date, tags, refs,
       1 - (embedding <=> $1) AS score
FROM %s
WHERE owner_id = $2
ORDER BY embedding <=> $1
LIMIT $3`, cfg.Table),
		insertSQL: fmt.Sprintf(`INSERT INTO %s (id, owner_id, document_id, sequence, content, embedding, title, author, note_date, tags, refs)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  content = EXCLUDED.content, embedding = EXCLUDED.embedding, title = EXCLUDED.title,
  author = EXCLUDED.author, note_date = EXCLUDED.note_date, tags = EXCLUDED.tags, refs = EXCLUDED.refs
WHERE %s.owner_id = EXCLUDED.owner_id`, cfg.Table, cfg.Table),
		deleteSQL: fmt.Sprintf(`DELETE FROM %s WHERE owner_id = $1 AND document_id = $2`, cfg.Table),
		pruneSQL:  fmt.Sprintf(`DELETE FROM %s WHERE owner_id = $1 AND document_id = $2 AND NOT (id = ANY($3))`, cfg.Table),
	}, nil
}

// EnsureSchema creates the pgvector extension, the chunk table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	t := s.cfg.Table
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  id          TEXT PRIMARY KEY,
  owner_id    BIGINT NOT NULL CHECK (owner_id > 0),
  document_id TEXT NOT NULL,
  sequence    INTEGER NOT NULL DEFAULT 0,
  content     TEXT NOT NULL,
  embedding   vector(%d) NOT NULL,
  title       TEXT NOT NULL DEFAULT '',
  author      TEXT NOT NULL DEFAULT '',
  note_date   TEXT NOT NULL DEFAULT '',
  tags        TEXT[] NOT NULL DEFAULT '{}',
  refs        TEXT[] NOT NULL DEFAULT '{}',
  created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`, t, s.cfg.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_owner_doc_idx ON %s (owner_id, document_id)`, t, t),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, t, t),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	s.logger.Info(ctx, "checked/created chunk table", zap.String("table", t), zap.Int("dimension", s.cfg.Dimension))
	return nil
}

// NearestChunks ranks the owner's chunks by cosine distance in one statement.
func (s *PostgresStore) NearestChunks(ctx context.Context, ownerID int64, vector []float32, k int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.NearestChunks")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("k", k))

	start := time.Now()
	defer func() { observe("postgres", "query", start, err) }()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := requireDimension(vector, s.cfg.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	rows, err := s.db.QueryContext(ctx, s.nearestSQL, pgvector.NewVector(vector), ownerID, k)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying nearest chunks: %w", err)
	}
	defer rows.Close()

	matches = make([]Match, 0, k)
	for rows.Next() {
		var (
			m    Match
			tags pq.StringArray
			refs pq.StringArray
		)
		if err := rows.Scan(
			&m.Chunk.ID,
			&m.Chunk.OwnerID,
			&m.Chunk.DocumentID,
			&m.Chunk.Sequence,
			&m.Chunk.Text,
			&m.Chunk.Source.Title,
			&m.Chunk.Source.Author,
			&m.Chunk.Source.Date,
			&tags,
			&refs,
			&m.Score,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scanning chunk row: %w", err)
		}
		m.Chunk.Source.Tags = []string(tags)
		m.Chunk.Source.References = []string(refs)
		m.Score = clampScore(m.Score)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("iterating chunk rows: %w", err)
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// AddChunks upserts chunks in a single transaction. An upsert never moves a
// chunk ID to a different owner.
func (s *PostgresStore) AddChunks(ctx context.Context, chunks []Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() { observe("postgres", "add", start, err) }()

	if err := validateChunks(chunks, s.cfg.Dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.insertChunks(ctx, tx, chunks); err != nil {
		span.RecordError(err)
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing chunks: %w", err)
	}
	return nil
}

// ReplaceDocument upserts chunks and prunes the document's other chunks in
// one transaction.
func (s *PostgresStore) ReplaceDocument(ctx context.Context, ownerID int64, documentID string, chunks []Chunk) (n int, err error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.ReplaceDocument")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() { observe("postgres", "replace", start, err) }()

	if err := validateReplacement(ownerID, documentID, chunks, s.cfg.Dimension); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.insertChunks(ctx, tx, chunks); err != nil {
		span.RecordError(err)
		return 0, err
	}

	res, err := tx.ExecContext(ctx, s.pruneSQL, ownerID, documentID, pq.Array(chunkIDs(chunks)))
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("pruning document %s: %w", documentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading pruned rows: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing document %s: %w", documentID, err)
	}
	return int(affected), nil
}

func (s *PostgresStore) insertChunks(ctx context.Context, tx *sql.Tx, chunks []Chunk) error {
	stmt, err := tx.PrepareContext(ctx, s.insertSQL)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx,
			c.ID,
			c.OwnerID,
			c.DocumentID,
			c.Sequence,
			c.Text,
			pgvector.NewVector(c.Embedding),
			c.Source.Title,
			c.Source.Author,
			c.Source.Date,
			pq.Array(nonNil(c.Source.Tags)),
			pq.Array(nonNil(c.Source.References)),
		); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// DeleteDocument removes a document's chunks for one owner.
func (s *PostgresStore) DeleteDocument(ctx context.Context, ownerID int64, documentID string) (n int, err error) {
	ctx, span := tracer.Start(ctx, "PostgresStore.DeleteDocument")
	defer span.End()

	start := time.Now()
	defer func() { observe("postgres", "delete", start, err) }()

	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, s.deleteSQL, ownerID, documentID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading deleted rows: %w", err)
	}
	return int(affected), nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
