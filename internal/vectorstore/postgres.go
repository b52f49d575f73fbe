package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/ragpipe/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// upsertChunkSQL replaces everything except created_at, which keeps the
// first indexing time across re-ingests.
const upsertChunkSQL = `INSERT INTO chunks (id, source_id, content, start_offset, end_offset, embedding, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (id) DO UPDATE SET
		source_id = EXCLUDED.source_id,
		content = EXCLUDED.content,
		start_offset = EXCLUDED.start_offset,
		end_offset = EXCLUDED.end_offset,
		embedding = EXCLUDED.embedding,
		metadata = EXCLUDED.metadata`

// searchChunksSQL orders by distance, then ID, which is exactly the
// score-descending, ID-ascending contract once similarity = 1 - distance.
const searchChunksSQL = `SELECT id, source_id, content, start_offset, end_offset, metadata, created_at,
		1 - (embedding <=> $1) AS similarity
	FROM chunks
	ORDER BY embedding <=> $1, id
	LIMIT $2`

// Postgres is the pgvector-backed Store.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	dim    int
	logger log.Logger
}

// NewPostgres creates a Postgres store over an existing pool. The
// schema is managed by migrations, not by this constructor. dim is the
// expected embedding dimension; vectors of any other length are
// rejected client-side before reaching the server.
func NewPostgres(pool *pgxpool.Pool, dim int, logger log.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, dim: dim, logger: logger}, nil
}

// Upsert inserts or replaces chunks by ID within a single transaction.
// Sources touched by the batch are advisory-locked in sorted order so
// concurrent writers for the same source serialize instead of
// deadlocking.
func (s *Postgres) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	for _, sourceID := range distinctSources(chunks) {
		if err := lockSource(ctx, tx, sourceID); err != nil {
			return err
		}
	}

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := tx.Exec(ctx, upsertChunkSQL,
			c.ID, c.SourceID, c.Content, c.StartOffset, c.EndOffset,
			pgvector.NewVector(c.Embedding), c.Metadata, createdAt,
		)
		if err != nil {
			return fmt.Errorf("%w: upserting chunk %s: %v", ErrUnavailable, c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing upsert: %v", ErrUnavailable, err)
	}

	s.logger.Debug("chunks upserted", "count", len(chunks))
	return nil
}

// DeleteBySource removes every chunk of a source. The advisory lock
// serializes the delete against concurrent Upsert calls for the same
// source across processes.
func (s *Postgres) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	if err := lockSource(ctx, tx, sourceID); err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting source %s: %v", ErrUnavailable, sourceID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: committing delete: %v", ErrUnavailable, err)
	}

	deleted := tag.RowsAffected()
	s.logger.Debug("source deleted", "source_id", sourceID, "chunks", deleted)
	return deleted, nil
}

// Search returns the top limit chunks by cosine similarity.
func (s *Postgres) Search(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dim)
	}
	if limit <= 0 {
		return []ScoredChunk{}, nil
	}

	rows, err := s.pool.Query(ctx, searchChunksSQL, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: searching chunks: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	results := make([]ScoredChunk, 0, limit)
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.SourceID, &sc.Content,
			&sc.StartOffset, &sc.EndOffset, &sc.Metadata, &sc.CreatedAt, &sc.Score); err != nil {
			return nil, fmt.Errorf("%w: scanning search row: %v", ErrUnavailable, err)
		}
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading search rows: %v", ErrUnavailable, err)
	}

	return results, nil
}

// Count reports chunks per source; an empty sourceID counts everything.
func (s *Postgres) Count(ctx context.Context, sourceID string) (int64, error) {
	var (
		count int64
		err   error
	)
	if sourceID == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	} else {
		err = s.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM chunks WHERE source_id = $1`, sourceID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Ping checks connectivity for readiness probes.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// lockSource takes a transaction-scoped advisory lock for one source.
// pg_advisory_xact_lock releases automatically at commit/rollback.
func lockSource(ctx context.Context, q querier, sourceID string) error {
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, sourceID); err != nil {
		return fmt.Errorf("%w: acquiring advisory lock for %s: %v", ErrUnavailable, sourceID, err)
	}
	return nil
}

// distinctSources returns the sorted set of source IDs in the batch.
// Sorted lock acquisition keeps concurrent multi-source upserts from
// deadlocking on each other.
func distinctSources(chunks []Chunk) []string {
	seen := make(map[string]struct{}, len(chunks))
	sources := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c.SourceID]; ok {
			continue
		}
		seen[c.SourceID] = struct{}{}
		sources = append(sources, c.SourceID)
	}
	sort.Strings(sources)
	return sources
}
