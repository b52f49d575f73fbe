package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koopa0/ragpipe/internal/log"
)

// SQLite is the embedded Store for local, single-node setups. SQLite has
// no vector index, so Search loads every stored embedding and ranks
// in-process with CosineSimilarity. That holds up fine for the corpus
// sizes a local install sees.
//
// SQLite is safe for concurrent use; the database/sql pool serializes
// writers underneath.
type SQLite struct {
	db     *sql.DB
	dim    int
	logger log.Logger
}

// NewSQLite creates a SQLite store over an open database. The chunks
// schema is managed by migrations, not by this constructor.
func NewSQLite(db *sql.DB, dim int, logger log.Logger) (*SQLite, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &SQLite{db: db, dim: dim, logger: logger}, nil
}

// Upsert inserts or replaces chunks by ID within one transaction.
func (s *SQLite) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %d has %d dimensions, expected %d",
				ErrDimensionMismatch, i, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: beginning transaction: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (id, source_id, content, start_offset, end_offset, embedding, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_id = excluded.source_id,
			content = excluded.content,
			start_offset = excluded.start_offset,
			end_offset = excluded.end_offset,
			embedding = excluded.embedding,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("%w: preparing upsert: %v", ErrUnavailable, err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		meta, err := encodeMetadata(c.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata for chunk %s: %w", c.ID, err)
		}
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = stmt.ExecContext(ctx, c.ID, c.SourceID, c.Content,
			c.StartOffset, c.EndOffset, EncodeVector(c.Embedding), meta, createdAt)
		if err != nil {
			return fmt.Errorf("%w: upserting chunk %s: %v", ErrUnavailable, c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: committing upsert: %v", ErrUnavailable, err)
	}

	s.logger.Debug("chunks upserted", "count", len(chunks))
	return nil
}

// DeleteBySource removes every chunk of a source.
func (s *SQLite) DeleteBySource(ctx context.Context, sourceID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("%w: deleting source %s: %v", ErrUnavailable, sourceID, err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: reading rows affected: %v", ErrUnavailable, err)
	}

	s.logger.Debug("source deleted", "source_id", sourceID, "chunks", deleted)
	return deleted, nil
}

// Search scans all stored chunks, scores them against the query
// embedding, and returns the top limit by score descending with ties
// broken by chunk ID ascending.
func (s *SQLite) Search(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error) {
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(embedding), s.dim)
	}
	if limit <= 0 {
		return []ScoredChunk{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, content, start_offset, end_offset, embedding, metadata, created_at FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("%w: searching chunks: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var scored []ScoredChunk
	for rows.Next() {
		var (
			c    Chunk
			blob []byte
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Content,
			&c.StartOffset, &c.EndOffset, &blob, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning chunk row: %v", ErrUnavailable, err)
		}

		stored, err := DecodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping undecodable embedding", "chunk_id", c.ID, "error", err)
			continue
		}
		score, err := CosineSimilarity(embedding, stored)
		if err != nil {
			s.logger.Warn("skipping unscorable embedding", "chunk_id", c.ID, "error", err)
			continue
		}

		if c.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("decoding metadata for chunk %s: %w", c.ID, err)
		}

		scored = append(scored, ScoredChunk{Chunk: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading chunk rows: %v", ErrUnavailable, err)
	}

	sortByScore(scored)
	if len(scored) > limit {
		scored = scored[:limit]
	}
	if scored == nil {
		scored = []ScoredChunk{}
	}
	return scored, nil
}

// Count reports chunks per source; an empty sourceID counts everything.
func (s *SQLite) Count(ctx context.Context, sourceID string) (int64, error) {
	var (
		count int64
		err   error
	)
	if sourceID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chunks WHERE source_id = ?`, sourceID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: counting chunks: %v", ErrUnavailable, err)
	}
	return count, nil
}

// Ping checks the database connection for readiness probes.
func (s *SQLite) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func encodeMetadata(meta map[string]string) ([]byte, error) {
	if len(meta) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
