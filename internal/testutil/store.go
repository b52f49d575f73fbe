package testutil

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// MemoryStore is an in-memory vectorstore.Store with real cosine
// ranking, for tests that need retrieval semantics without a server.
//
// Thread-safe for concurrent use. Failure injection applies to all
// following calls of the corresponding operation.
type MemoryStore struct {
	mu        sync.Mutex
	chunks    map[string]vectorstore.Chunk
	upsertErr error
	searchErr error
	pingErr   error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{chunks: make(map[string]vectorstore.Chunk)}
}

// FailUpsert makes every following Upsert return err. Pass nil to recover.
func (s *MemoryStore) FailUpsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertErr = err
}

// FailSearch makes every following Search return err. Pass nil to recover.
func (s *MemoryStore) FailSearch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.searchErr = err
}

// FailPing makes every following Ping return err. Pass nil to recover.
func (s *MemoryStore) FailPing(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pingErr = err
}

// Upsert inserts or replaces chunks by ID.
func (s *MemoryStore) Upsert(_ context.Context, chunks []vectorstore.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	for _, c := range chunks {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now()
		}
		s.chunks[c.ID] = c
	}
	return nil
}

// DeleteBySource removes every chunk of a source.
func (s *MemoryStore) DeleteBySource(_ context.Context, sourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, c := range s.chunks {
		if c.SourceID == sourceID {
			delete(s.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

// Search ranks all chunks by cosine similarity to the query embedding,
// score descending with ties broken by chunk ID ascending.
func (s *MemoryStore) Search(_ context.Context, embedding []float32, limit int) ([]vectorstore.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	if limit <= 0 {
		return []vectorstore.ScoredChunk{}, nil
	}

	results := make([]vectorstore.ScoredChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		hit := vectorstore.ScoredChunk{Chunk: c, Score: cosineSimilarity(embedding, c.Embedding)}
		hit.Embedding = nil
		results = append(results, hit)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count reports chunks per source; an empty sourceID counts everything.
func (s *MemoryStore) Count(_ context.Context, sourceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sourceID == "" {
		return int64(len(s.chunks)), nil
	}
	var count int64
	for _, c := range s.chunks {
		if c.SourceID == sourceID {
			count++
		}
	}
	return count, nil
}

// Ping reports the injected reachability state.
func (s *MemoryStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
