package testutil

import (
	"testing"

	"github.com/koopa0/ragpipe/internal/embedding"
	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/retrieve"
)

// PipelineSetup bundles a fully wired test pipeline with the fakes
// behind it, so tests can ingest, script responses, and inject
// failures.
type PipelineSetup struct {
	Pipeline  *pipeline.Pipeline
	Store     *MemoryStore
	Embedder  *MockEmbedder
	Generator *MockGenerator
}

// SetupPipeline wires real pipeline components (gateway, chunker,
// ingestor, retriever, composer) over in-memory fakes. Embeddings are
// hash-derived by default; tests that assert on retrieval order should
// register explicit vectors for both documents and queries via
// Embedder.SetVector, using one consistent dimension per test.
func SetupPipeline(tb testing.TB) *PipelineSetup {
	tb.Helper()

	store := NewMemoryStore()
	embedder := NewMockEmbedder(8)
	gen := NewMockGenerator("I do not know.")
	logger := log.NewNop()

	gateway, err := embedding.NewGateway(embedding.Config{Backend: embedder, Logger: logger})
	if err != nil {
		tb.Fatalf("creating gateway: %v", err)
	}

	chunker, err := ingest.NewChunker(300, 50)
	if err != nil {
		tb.Fatalf("creating chunker: %v", err)
	}

	ingestor, err := ingest.New(ingest.Config{
		Chunker:  chunker,
		Embedder: gateway,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		tb.Fatalf("creating ingestor: %v", err)
	}

	retriever, err := retrieve.New(retrieve.Config{
		Embedder: gateway,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		tb.Fatalf("creating retriever: %v", err)
	}

	composer := prompt.New(prompt.Config{})

	p, err := pipeline.New(pipeline.Config{
		Ingestor:  ingestor,
		Retriever: retriever,
		Composer:  composer,
		Generator: gen,
		Store:     store,
		Logger:    logger,
	})
	if err != nil {
		tb.Fatalf("creating pipeline: %v", err)
	}

	return &PipelineSetup{
		Pipeline:  p,
		Store:     store,
		Embedder:  embedder,
		Generator: gen,
	}
}
