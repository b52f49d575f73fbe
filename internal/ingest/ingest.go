// Package ingest turns raw documents into embedded chunks in the
// vector store.
//
// The Chunker cuts document text into overlapping rune windows with
// deterministic IDs, so re-ingesting identical content writes identical
// chunks. The Ingestor runs the per-source pipeline: validate, delete
// the previous generation of chunks, split, batch-embed, upsert. The
// delete commits before anything else touches the store, which means a
// failed ingestion leaves a source with zero chunks rather than a mix
// of old and new generations.
//
// Work on the same source is serialized through an in-process keyed
// lock; distinct sources ingest in parallel.
package ingest

import (
	"errors"
	"time"
)

// ErrInvalidInput reports a document or configuration the pipeline
// refuses to process. It is returned before any store mutation.
var ErrInvalidInput = errors.New("invalid input")

// Default chunking geometry, in runes.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Document is the raw input to ingestion.
type Document struct {
	SourceID string            // Stable identifier, e.g. a path or URL
	Content  string            // Full document text
	Metadata map[string]string // Carried onto every chunk
}

// Result reports one completed ingestion.
type Result struct {
	SourceID      string
	JobID         string // Unique per run, for log correlation
	ChunksIndexed int
	ChunksDeleted int // Previous generation removed before indexing
	Elapsed       time.Duration
}

// BatchResult reports a multi-document ingestion run.
type BatchResult struct {
	TotalDocs     int
	SucceededDocs int
	ChunksIndexed int
	FailedDocs    []FailedDoc
	Elapsed       time.Duration
}

// FailedDoc names a document that failed to ingest and why.
type FailedDoc struct {
	SourceID string
	Reason   string
}
