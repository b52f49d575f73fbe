package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/koopa0/ragpipe/internal/log"
)

// contentVector is the named vector every chunk point carries.
const contentVector = "content"

// qdrantUpsertBatch bounds points per upsert call.
const qdrantUpsertBatch = 100

// QdrantConfig configures a Qdrant store.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimension  int
	Logger     log.Logger
}

// Qdrant is the Qdrant-backed Store, speaking gRPC via the official
// client. Point IDs are UUIDv5 digests of chunk IDs, so re-upserting
// the same chunk overwrites the same point.
type Qdrant struct {
	client     *qdrant.Client
	collection string
	dim        int
	logger     log.Logger
}

// NewQdrant connects to Qdrant, verifies health with exponential
// backoff, and ensures the collection exists. It fails fast when the
// server stays unreachable.
func NewQdrant(ctx context.Context, cfg QdrantConfig) (*Qdrant, error) {
	if cfg.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", cfg.Dimension)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Host,
		Port: cfg.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating qdrant client: %v", ErrUnavailable, err)
	}

	s := &Qdrant{
		client:     client,
		collection: cfg.Collection,
		dim:        cfg.Dimension,
		logger:     cfg.Logger,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return s, nil
}

// healthCheckWithRetry probes Qdrant with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *Qdrant) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.health(ctx)
	}, backoff.WithContext(b, ctx))
}

// health performs a single health check.
func (s *Qdrant) health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// ensureCollection creates the chunk collection and its payload index
// when missing. Idempotent.
func (s *Qdrant) ensureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing collections: %v", ErrUnavailable, err)
	}
	for _, name := range collections {
		if name == s.collection {
			return nil
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			contentVector: {
				Size:     uint64(s.dim),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection: %v", ErrUnavailable, err)
	}

	// Keyword index keeps source_id filters from scanning every point.
	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		FieldName:      "source_id",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("%w: creating source_id index: %v", ErrUnavailable, err)
	}

	s.logger.Debug("qdrant collection created", "collection", s.collection, "dimension", s.dim)
	return nil
}

// Close closes the underlying gRPC connection.
func (s *Qdrant) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// Upsert stores chunks as points in batches, waiting for each batch so
// a Search right after ingestion sees the new points.
func (s *Qdrant) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), s.dim)
		}
	}

	for i := 0; i < len(chunks); i += qdrantUpsertBatch {
		end := min(i+qdrantUpsertBatch, len(chunks))
		batch := chunks[i:end]

		points := make([]*qdrant.PointStruct, len(batch))
		for j, c := range batch {
			points[j] = &qdrant.PointStruct{
				Id: qdrant.NewIDUUID(pointID(c.ID)),
				Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
					contentVector: qdrant.NewVector(c.Embedding...),
				}),
				Payload: qdrant.NewValueMap(chunkPayload(c)),
			}
		}

		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("%w: upserting batch %d-%d: %v", ErrUnavailable, i, end, err)
		}
	}

	s.logger.Debug("chunks upserted", "count", len(chunks))
	return nil
}

// DeleteBySource removes every point whose payload names the source.
func (s *Qdrant) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	filter := sourceFilter(sourceID)

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting source %s: %v", ErrUnavailable, sourceID, err)
	}

	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: deleting source %s: %v", ErrUnavailable, sourceID, err)
	}

	s.logger.Debug("source deleted", "source_id", sourceID, "chunks", count)
	return int64(count), nil
}

// Search queries the content vector and re-sorts client-side to pin
// down tie order, which the server does not guarantee.
func (s *Qdrant) Search(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dim)
	}
	if limit <= 0 {
		return []ScoredChunk{}, nil
	}

	vectorName := contentVector
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Using:          &vectorName,
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: searching chunks: %v", ErrUnavailable, err)
	}

	scored := make([]ScoredChunk, 0, len(results))
	for _, result := range results {
		scored = append(scored, ScoredChunk{
			Chunk: chunkFromPayload(result.Payload),
			Score: float64(result.Score),
		})
	}
	sortByScore(scored)

	return scored, nil
}

// Count reports chunks per source; an empty sourceID counts everything.
func (s *Qdrant) Count(ctx context.Context, sourceID string) (int64, error) {
	req := &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	}
	if sourceID != "" {
		req.Filter = sourceFilter(sourceID)
	}

	count, err := s.client.Count(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrUnavailable, err)
	}
	return int64(count), nil
}

// Ping checks reachability for readiness probes.
func (s *Qdrant) Ping(ctx context.Context) error {
	if err := s.health(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// pointID derives a stable UUIDv5 point ID from a chunk ID. Qdrant only
// accepts UUIDs or integers as point IDs, so the hex chunk ID cannot be
// used directly.
func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// sourceFilter matches points of one source.
func sourceFilter(sourceID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("source_id", sourceID),
		},
	}
}

// chunkPayload flattens a chunk into a Qdrant payload. The original
// chunk ID travels in the payload because the point ID is its UUIDv5
// digest.
func chunkPayload(c Chunk) map[string]any {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	payload := map[string]any{
		"chunk_id":     c.ID,
		"source_id":    c.SourceID,
		"content":      c.Content,
		"start_offset": c.StartOffset,
		"end_offset":   c.EndOffset,
		"created_at":   createdAt.UTC().Format(time.RFC3339Nano),
	}

	if len(c.Metadata) > 0 {
		meta := make(map[string]any, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		payload["metadata"] = meta
	}

	return payload
}

// chunkFromPayload rebuilds a chunk from a point payload. Embeddings
// are not returned on search results.
func chunkFromPayload(payload map[string]*qdrant.Value) Chunk {
	c := Chunk{
		ID:          payload["chunk_id"].GetStringValue(),
		SourceID:    payload["source_id"].GetStringValue(),
		Content:     payload["content"].GetStringValue(),
		StartOffset: int(payload["start_offset"].GetIntegerValue()),
		EndOffset:   int(payload["end_offset"].GetIntegerValue()),
	}

	if createdAt, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue()); err == nil {
		c.CreatedAt = createdAt
	}

	if sv := payload["metadata"].GetStructValue(); sv != nil {
		meta := make(map[string]string, len(sv.GetFields()))
		for k, v := range sv.GetFields() {
			meta[k] = v.GetStringValue()
		}
		c.Metadata = meta
	}

	return c
}
