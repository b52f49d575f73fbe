// Package pipeline composes ingestion, retrieval, prompt composition,
// and generation behind one facade.
//
// The pipeline owns no backend lifecycle. Every component arrives
// constructed via Config; the caller that built them shuts them down.
// All operations are traced through the global OpenTelemetry tracer.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/retrieve"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

var tracer = otel.Tracer("github.com/koopa0/ragpipe/internal/pipeline")

// Config wires a Pipeline. Ingestor, Retriever, Composer, Generator,
// and Store are required.
type Config struct {
	Ingestor  *ingest.Ingestor
	Retriever *retrieve.Retriever
	Composer  *prompt.Composer
	Generator generate.Backend
	Store     vectorstore.Store
	Logger    log.Logger

	// Generation parameters passed to every Ask. Zero values use the
	// backend defaults.
	Temperature     float32
	MaxOutputTokens int32
}

// Pipeline is the application-facing RAG surface. Safe for concurrent
// use; queries share no mutable state.
type Pipeline struct {
	ingestor  *ingest.Ingestor
	retriever *retrieve.Retriever
	composer  *prompt.Composer
	generator generate.Backend
	store     vectorstore.Store
	logger    log.Logger

	temperature     float32
	maxOutputTokens int32
}

// AskRequest is one end-to-end question.
type AskRequest struct {
	Query   string
	History []prompt.Message

	// Options tune retrieval for this request only.
	Options []retrieve.Option
}

// Status reports what the pipeline can currently serve.
type Status struct {
	// ChunkCount is the number of chunks in the store, valid only
	// when the store is reachable.
	ChunkCount     int64 `json:"chunk_count"`
	StoreReachable bool  `json:"store_reachable"`
}

// New creates a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if cfg.Composer == nil {
		return nil, fmt.Errorf("composer is required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	return &Pipeline{
		ingestor:        cfg.Ingestor,
		retriever:       cfg.Retriever,
		composer:        cfg.Composer,
		generator:       cfg.Generator,
		store:           cfg.Store,
		logger:          cfg.Logger,
		temperature:     cfg.Temperature,
		maxOutputTokens: cfg.MaxOutputTokens,
	}, nil
}

// Ingest indexes one document, replacing any prior generation of its
// chunks.
func (p *Pipeline) Ingest(ctx context.Context, doc ingest.Document) (*ingest.Result, error) {
	ctx, span := tracer.Start(ctx, "rag.ingest",
		trace.WithAttributes(attribute.String("source_id", doc.SourceID)))
	defer span.End()

	result, err := p.ingestor.Ingest(ctx, doc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("chunks_indexed", result.ChunksIndexed),
		attribute.Int64("chunks_deleted", result.ChunksDeleted),
	)
	return result, nil
}

// IngestAll indexes documents concurrently, continuing past individual
// failures.
func (p *Pipeline) IngestAll(ctx context.Context, docs []ingest.Document) (*ingest.BatchResult, error) {
	ctx, span := tracer.Start(ctx, "rag.ingest_all",
		trace.WithAttributes(attribute.Int("documents", len(docs))))
	defer span.End()

	batch, err := p.ingestor.IngestAll(ctx, docs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch ingest interrupted")
		return batch, err
	}

	span.SetAttributes(
		attribute.Int("succeeded", batch.SucceededDocs),
		attribute.Int("failed", len(batch.FailedDocs)),
	)
	return batch, nil
}

// DeleteSource removes every chunk of a source and reports how many
// went away.
func (p *Pipeline) DeleteSource(ctx context.Context, sourceID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "rag.delete_source",
		trace.WithAttributes(attribute.String("source_id", sourceID)))
	defer span.End()

	deleted, err := p.ingestor.Delete(ctx, sourceID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return 0, err
	}

	span.SetAttributes(attribute.Int64("chunks_deleted", deleted))
	return deleted, nil
}

// Query retrieves context passages without generating an answer.
func (p *Pipeline) Query(ctx context.Context, query string, opts ...retrieve.Option) (*retrieve.Result, error) {
	ctx, span := tracer.Start(ctx, "rag.query")
	defer span.End()

	result, err := p.retriever.Retrieve(ctx, query, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("passages", len(result.Passages)),
		attribute.Bool("truncated", result.Truncated),
	)
	return result, nil
}

// Ask answers a question with retrieved context, streaming the answer
// as generation events.
//
// Retrieval and composition failures return synchronously, before any
// event flows. The returned channel follows the generate.Orchestrator
// contract: receive until it closes, cancel ctx to abandon.
func (p *Pipeline) Ask(ctx context.Context, req AskRequest) (<-chan generate.Event, error) {
	ctx, span := tracer.Start(ctx, "rag.ask")

	retrieval, err := p.retriever.Retrieve(ctx, req.Query, req.Options...)
	if err != nil {
		p.endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("passages", len(retrieval.Passages)),
		attribute.Bool("context_truncated", retrieval.Truncated),
	)

	composed, err := p.composer.Compose(req.Query, retrieval.Passages, req.History)
	if err != nil {
		p.endSpan(span, err)
		return nil, err
	}

	orch, err := generate.New(generate.Config{Backend: p.generator, Logger: p.logger})
	if err != nil {
		p.endSpan(span, err)
		return nil, err
	}

	events := orch.Stream(ctx, generate.Request{
		Prompt:          composed,
		Passages:        retrieval.Passages,
		Temperature:     p.temperature,
		MaxOutputTokens: p.maxOutputTokens,
	})

	return p.traceStream(ctx, span, events), nil
}

// Status reports store reachability and chunk count. An unreachable
// store is a report, not an error.
func (p *Pipeline) Status(ctx context.Context) (*Status, error) {
	ctx, span := tracer.Start(ctx, "rag.status")
	defer span.End()

	if err := p.store.Ping(ctx); err != nil {
		p.logger.Debug("store unreachable", "error", err)
		return &Status{StoreReachable: false}, nil
	}

	count, err := p.store.Count(ctx, "")
	if err != nil {
		span.RecordError(err)
		return &Status{StoreReachable: false}, nil
	}

	return &Status{ChunkCount: count, StoreReachable: true}, nil
}

// traceStream forwards events unchanged, closing the span when the
// stream ends so it covers the full generation.
func (p *Pipeline) traceStream(ctx context.Context, span trace.Span, in <-chan generate.Event) <-chan generate.Event {
	out := make(chan generate.Event)
	go func() {
		defer close(out)
		defer span.End()
		for ev := range in {
			if errEv, ok := ev.(generate.EventError); ok {
				span.RecordError(errEv.Err)
				span.SetStatus(codes.Error, "generation failed")
			}
			if !forward(ctx, out, ev) {
				// Receiver is gone. Drain the producer so it can
				// close, then stop.
				for range in {
				}
				return
			}
		}
	}()
	return out
}

// forward delivers one event, degrading to a bounded wait once ctx is
// dead so an abandoned stream cannot pin the forwarder.
func forward(ctx context.Context, out chan<- generate.Event, ev generate.Event) bool {
	if ctx.Err() == nil {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
		}
	}
	select {
	case out <- ev:
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func (p *Pipeline) endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.End()
}
