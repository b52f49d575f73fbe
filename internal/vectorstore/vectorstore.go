// Package vectorstore persists embedded chunks and serves similarity
// searches over them.
//
// Three backends implement the Store interface: Postgres (pgvector),
// Qdrant, and SQLite (in-process cosine ranking for local setups).
// All backends share the same ordering contract: results are sorted by
// similarity score descending with ties broken by chunk ID ascending,
// so identical corpora rank identically regardless of backend.
//
// Backend failures wrap ErrUnavailable so callers can tell an
// unreachable store from a legitimately empty result set.
package vectorstore

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	// ErrUnavailable wraps every backend failure: connection refused,
	// timeouts, query errors. An empty index is not an error.
	ErrUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch reports a vector whose length does not match
	// the dimension the store was configured with.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Chunk is one indexed piece of a source document.
type Chunk struct {
	ID          string            // Deterministic hash of (source_id, start_offset)
	SourceID    string            // Document the chunk was cut from
	Content     string            // Chunk text
	StartOffset int               // Rune offset of the first rune in the source
	EndOffset   int               // Rune offset one past the last rune
	Embedding   []float32         // Content vector; not populated on search results
	Metadata    map[string]string // Optional source metadata (path, title, ...)
	CreatedAt   time.Time         // First indexing time
}

// ScoredChunk is a search hit with its cosine similarity score.
// Higher is more similar.
type ScoredChunk struct {
	Chunk
	Score float64
}

// Store is the persistence contract the ingestion and retrieval
// pipelines depend on. Implementations are safe for concurrent use.
type Store interface {
	// Upsert inserts or replaces chunks by ID.
	Upsert(ctx context.Context, chunks []Chunk) error

	// DeleteBySource removes every chunk of a source and reports how
	// many were removed. An unknown source deletes zero without error.
	DeleteBySource(ctx context.Context, sourceID string) (int64, error)

	// Search returns the top limit chunks by similarity to the query
	// embedding. An empty index yields an empty slice and nil error.
	Search(ctx context.Context, embedding []float32, limit int) ([]ScoredChunk, error)

	// Count reports how many chunks a source has. An empty sourceID
	// counts the whole index.
	Count(ctx context.Context, sourceID string) (int64, error)

	// Ping checks backend reachability for readiness probes.
	Ping(ctx context.Context) error
}

// sortByScore establishes the shared result order: score descending,
// ties by chunk ID ascending.
func sortByScore(results []ScoredChunk) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}
