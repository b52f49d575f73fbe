package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// DefaultConcurrency bounds parallel documents in IngestAll.
const DefaultConcurrency = 4

// Embedder turns chunk texts into vectors, one per input, in order.
// *embedding.Gateway satisfies this.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures an Ingestor.
type Config struct {
	// Chunker cuts documents. Defaults to the default geometry.
	Chunker *Chunker

	// Embedder vectorizes chunk texts. Required.
	Embedder Embedder

	// Store persists chunks. Required.
	Store vectorstore.Store

	// Logger receives per-run output. Defaults to a nop logger.
	Logger log.Logger

	// Concurrency bounds parallel documents in IngestAll.
	// Default: DefaultConcurrency.
	Concurrency int
}

// Ingestor runs the per-source ingestion pipeline.
//
// Ingestor is safe for concurrent use; work on the same source is
// serialized internally.
type Ingestor struct {
	chunker     *Chunker
	embedder    Embedder
	store       vectorstore.Store
	logger      log.Logger
	concurrency int
	locks       *sourceLock
}

// New creates an Ingestor, filling unset config fields with defaults.
func New(cfg Config) (*Ingestor, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Chunker == nil {
		chunker, err := NewChunker(DefaultChunkSize, DefaultChunkOverlap)
		if err != nil {
			return nil, err
		}
		cfg.Chunker = chunker
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	return &Ingestor{
		chunker:     cfg.Chunker,
		embedder:    cfg.Embedder,
		store:       cfg.Store,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		locks:       newSourceLock(),
	}, nil
}

// Ingest replaces a source's chunks with a freshly split and embedded
// generation. The stale generation is deleted first; if embedding or
// upserting then fails, the source is left with zero chunks and the
// caller retries.
func (ing *Ingestor) Ingest(ctx context.Context, doc Document) (*Result, error) {
	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	start := time.Now()
	jobID := uuid.New().String()

	unlock := ing.locks.Lock(doc.SourceID)
	defer unlock()

	deleted, err := ing.store.DeleteBySource(ctx, doc.SourceID)
	if err != nil {
		return nil, fmt.Errorf("deleting stale chunks for %s: %w", doc.SourceID, err)
	}

	chunks := ing.chunker.Split(doc.SourceID, doc.Content)
	for i := range chunks {
		chunks[i].Metadata = doc.Metadata
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d chunks for %s: %w", len(chunks), doc.SourceID, err)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := ing.store.Upsert(ctx, chunks); err != nil {
		return nil, fmt.Errorf("upserting chunks for %s: %w", doc.SourceID, err)
	}

	result := &Result{
		SourceID:      doc.SourceID,
		JobID:         jobID,
		ChunksIndexed: len(chunks),
		ChunksDeleted: int(deleted),
		Elapsed:       time.Since(start),
	}

	ing.logger.Info("source ingested",
		"source_id", result.SourceID,
		"job_id", result.JobID,
		"chunks", result.ChunksIndexed,
		"deleted", result.ChunksDeleted,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// Delete removes every chunk of a source and reports how many went.
func (ing *Ingestor) Delete(ctx context.Context, sourceID string) (int64, error) {
	if sourceID == "" {
		return 0, fmt.Errorf("%w: source_id is required", ErrInvalidInput)
	}

	unlock := ing.locks.Lock(sourceID)
	defer unlock()

	deleted, err := ing.store.DeleteBySource(ctx, sourceID)
	if err != nil {
		return 0, fmt.Errorf("deleting source %s: %w", sourceID, err)
	}

	ing.logger.Info("source deleted", "source_id", sourceID, "chunks", deleted)
	return deleted, nil
}

// IngestAll ingests documents with bounded parallelism, continuing past
// per-document failures. Failures land in BatchResult.FailedDocs; the
// returned error is non-nil only when the context was canceled.
func (ing *Ingestor) IngestAll(ctx context.Context, docs []Document) (*BatchResult, error) {
	start := time.Now()
	batch := &BatchResult{TotalDocs: len(docs)}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.concurrency)

	for _, doc := range docs {
		g.Go(func() error {
			result, err := ing.Ingest(gctx, doc)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.FailedDocs = append(batch.FailedDocs, FailedDoc{
					SourceID: doc.SourceID,
					Reason:   err.Error(),
				})
				return nil
			}
			batch.SucceededDocs++
			batch.ChunksIndexed += result.ChunksIndexed
			return nil
		})
	}

	_ = g.Wait() // workers report through batch, never through the group
	batch.Elapsed = time.Since(start)

	ing.logger.Info("batch ingested",
		"total", batch.TotalDocs,
		"succeeded", batch.SucceededDocs,
		"failed", len(batch.FailedDocs),
		"chunks", batch.ChunksIndexed,
		"elapsed", batch.Elapsed,
	)

	return batch, ctx.Err()
}

// validateDocument checks required fields before any store mutation.
func validateDocument(doc Document) error {
	if doc.SourceID == "" {
		return fmt.Errorf("%w: source_id is required", ErrInvalidInput)
	}
	if doc.Content == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	return nil
}
