package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fyrsmithlabs/notesrag/internal/logging"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// pointNamespace derives stable Qdrant point UUIDs from chunk IDs.
var pointNamespace = uuid.MustParse("6f1c3c2e-8a57-4d0b-9b7e-2f6a1e0c4d11")

// QdrantConfig configures the Qdrant gRPC store.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int

	// MaxRetries bounds retries of transient gRPC failures. Default 3.
	MaxRetries int
	// RetryBackoff is the first retry delay. Default 500ms.
	RetryBackoff time.Duration
	// MaxMessageSize caps gRPC messages. Default 16MB.
	MaxMessageSize int
}

// ApplyDefaults fills unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "note_chunks"
	}
	if c.Dimension == 0 {
		c.Dimension = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 16 * 1024 * 1024
	}
}

// Validate checks the configuration.
func (c QdrantConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if !tableNamePattern.MatchString(c.Collection) {
		return fmt.Errorf("%w: invalid collection name %q", ErrInvalidConfig, c.Collection)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore keeps chunks as Qdrant points. The owner is an indexed integer
// payload field and every query carries it as a must-condition.
type QdrantStore struct {
	client *qdrant.Client
	cfg    QdrantConfig
	logger *logging.Logger
}

// NewQdrantStore connects, health-checks and ensures the collection exists.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *logging.Logger) (*QdrantStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logger.Named("qdrant")

	if !cfg.UseTLS {
		logger.Warn(ctx, "qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{client: client, cfg: cfg, logger: logger}
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.cfg.Collection)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.cfg.Collection, err)
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.cfg.Dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.cfg.Collection, err)
	}

	err = s.retryOperation(ctx, "create_owner_index", func() error {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      OwnerKey,
			FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("indexing %s on %s: %w", OwnerKey, s.cfg.Collection, err)
	}

	s.logger.Info(ctx, "created qdrant collection",
		zap.String("collection", s.cfg.Collection),
		zap.Int("dimension", s.cfg.Dimension),
	)
	return nil
}

// retryOperation retries transient gRPC failures with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.MaxRetries)), ctx)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := operation()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return backoff.Permanent(fmt.Errorf("%s failed (permanent): %w", operationName, err))
		}
		s.logger.Debug(ctx, "retrying qdrant operation",
			zap.String("operation", operationName),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return err
	}, policy)
}

// NearestChunks runs a filtered query so only the owner's points are ranked.
func (s *QdrantStore) NearestChunks(ctx context.Context, ownerID int64, vector []float32, k int) (matches []Match, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.NearestChunks")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("k", k))

	start := time.Now()
	defer func() { observe("qdrant", "query", start, err) }()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := requireDimension(vector, s.cfg.Dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []Match{}, nil
	}

	var points []*qdrant.ScoredPoint
	err = s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.cfg.Collection,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         ownerFilter(ownerID),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.cfg.Collection, err)
	}

	matches = make([]Match, 0, len(points))
	for _, p := range points {
		chunk, err := chunkFromPayload(p.GetPayload())
		if err != nil {
			s.logger.Warn(ctx, "skipping point with unreadable payload", zap.Error(err))
			continue
		}
		matches = append(matches, Match{Chunk: chunk, Score: clampScore(float64(p.GetScore()))})
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// AddChunks upserts chunks as points keyed by a UUID derived from the chunk ID.
func (s *QdrantStore) AddChunks(ctx context.Context, chunks []Chunk) (err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.AddChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() { observe("qdrant", "add", start, err) }()

	if err := validateChunks(chunks, s.cfg.Dimension); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &qdrant.PointStruct{
			Id:      pointID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: chunkPayload(c),
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting points to collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// ReplaceDocument upserts chunks and then deletes the document's points
// that were not part of the upsert. A failed upsert deletes nothing.
func (s *QdrantStore) ReplaceDocument(ctx context.Context, ownerID int64, documentID string, chunks []Chunk) (n int, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.ReplaceDocument")
	defer span.End()
	span.SetAttributes(attribute.Int64("owner_id", ownerID), attribute.Int("chunk_count", len(chunks)))

	start := time.Now()
	defer func() { observe("qdrant", "replace", start, err) }()

	if err := validateReplacement(ownerID, documentID, chunks, s.cfg.Dimension); err != nil {
		return 0, err
	}
	if err := s.AddChunks(ctx, chunks); err != nil {
		return 0, err
	}

	filter := staleFilter(ownerID, documentID, chunks)
	var count uint64
	err = s.retryOperation(ctx, "count", func() error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.cfg.Collection,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting stale points of %s: %w", documentID, err)
	}
	if count == 0 {
		return 0, nil
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("pruning document %s: %w", documentID, err)
	}
	return int(count), nil
}

// DeleteDocument removes a document's points for one owner.
func (s *QdrantStore) DeleteDocument(ctx context.Context, ownerID int64, documentID string) (n int, err error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteDocument")
	defer span.End()

	start := time.Now()
	defer func() { observe("qdrant", "delete", start, err) }()

	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}

	filter := documentFilter(ownerID, documentID)

	var count uint64
	err = s.retryOperation(ctx, "count", func() error {
		var err error
		count, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.cfg.Collection,
			Filter:         filter,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("counting document %s: %w", documentID, err)
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.cfg.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("deleting document %s: %w", documentID, err)
	}
	return int(count), nil
}

// Ping runs the Qdrant health check.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(chunkID)).String())
}

func ownerCondition(ownerID int64) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   OwnerKey,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: ownerID}},
			},
		},
	}
}

func ownerFilter(ownerID int64) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{ownerCondition(ownerID)}}
}

func documentFilter(ownerID int64, documentID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{
		ownerCondition(ownerID),
		{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   metaDocumentID,
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: documentID}},
				},
			},
		},
	}}
}

// staleFilter matches the document's points other than chunks.
func staleFilter(ownerID int64, documentID string, chunks []Chunk) *qdrant.Filter {
	ids := make([]*qdrant.PointId, len(chunks))
	for i, c := range chunks {
		ids[i] = pointID(c.ID)
	}
	filter := documentFilter(ownerID, documentID)
	filter.MustNot = []*qdrant.Condition{qdrant.NewHasID(ids...)}
	return filter
}

func stringValue(s string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func listValue(items []string) *qdrant.Value {
	values := make([]*qdrant.Value, len(items))
	for i, item := range items {
		values[i] = stringValue(item)
	}
	return &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: values}}}
}

func chunkPayload(c Chunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"id":           stringValue(c.ID),
		"content":      stringValue(c.Text),
		OwnerKey:       {Kind: &qdrant.Value_IntegerValue{IntegerValue: c.OwnerID}},
		metaDocumentID: stringValue(c.DocumentID),
		metaSequence:   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(c.Sequence)}},
		metaTitle:      stringValue(c.Source.Title),
		metaAuthor:     stringValue(c.Source.Author),
		metaDate:       stringValue(c.Source.Date),
		metaTags:       listValue(c.Source.Tags),
		metaRefs:       listValue(c.Source.References),
	}
}

func chunkFromPayload(p map[string]*qdrant.Value) (Chunk, error) {
	owner, ok := p[OwnerKey].GetKind().(*qdrant.Value_IntegerValue)
	if !ok {
		return Chunk{}, fmt.Errorf("payload missing integer %s", OwnerKey)
	}
	c := Chunk{
		ID:         p["id"].GetStringValue(),
		OwnerID:    owner.IntegerValue,
		DocumentID: p[metaDocumentID].GetStringValue(),
		Sequence:   int(p[metaSequence].GetIntegerValue()),
		Text:       p["content"].GetStringValue(),
		Source: SourceMetadata{
			Title:      p[metaTitle].GetStringValue(),
			Author:     p[metaAuthor].GetStringValue(),
			Date:       p[metaDate].GetStringValue(),
			Tags:       listStrings(p[metaTags]),
			References: listStrings(p[metaRefs]),
		},
	}
	if c.ID == "" {
		return Chunk{}, fmt.Errorf("payload missing id")
	}
	return c, nil
}

func listStrings(v *qdrant.Value) []string {
	list := v.GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}
