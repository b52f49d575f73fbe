package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/koopa0/ragpipe/internal/app"
	"github.com/koopa0/ragpipe/internal/config"
	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/pipeline"
)

// lockRetryDelay is how often the ingest lock is retried while another
// process holds it.
const lockRetryDelay = 250 * time.Millisecond

// runIngest indexes documents from file arguments, or from stdin when
// --source names the document.
func runIngest() error {
	ingestFlags := flag.NewFlagSet("ingest", flag.ContinueOnError)
	ingestFlags.SetOutput(os.Stderr)
	source := ingestFlags.String("source", "", "Source ID for stdin input")

	if err := ingestFlags.Parse(argsAfterCommand()); err != nil {
		return fmt.Errorf("parsing ingest flags: %w", err)
	}

	paths := ingestFlags.Args()
	if len(paths) == 0 && *source == "" {
		return fmt.Errorf("usage: ragpipe ingest [files...] or ragpipe ingest --source <id> < file")
	}
	if len(paths) > 0 && *source != "" {
		return fmt.Errorf("--source applies to stdin input only")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Lock before the store opens so concurrent CLI ingests queue up
	// instead of tripping over sqlite write contention.
	release, err := acquireIngestLock(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer closeApp(a)

	if len(paths) == 0 {
		return ingestStdin(ctx, a.Pipeline, *source)
	}
	return ingestFiles(ctx, a.Pipeline, paths)
}

// acquireIngestLock serializes ingestion across processes sharing a
// sqlite database file. Returns a release func, a no-op for server
// backed stores.
func acquireIngestLock(ctx context.Context, cfg *config.Config) (func(), error) {
	if cfg.StoreBackend != config.StoreSQLite {
		return func() {}, nil
	}

	lock := flock.New(cfg.SQLitePath + ".lock")
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return nil, fmt.Errorf("acquiring ingest lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("ingest lock held by another process")
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("releasing ingest lock", "error", err)
		}
	}, nil
}

// ingestStdin indexes one document read from standard input.
func ingestStdin(ctx context.Context, p *pipeline.Pipeline, sourceID string) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	result, err := p.Ingest(ctx, ingest.Document{SourceID: sourceID, Content: string(data)})
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", sourceID, err)
	}
	printIngestResult(result)
	return nil
}

// ingestFiles indexes each file argument as its own document, the
// path as source ID.
func ingestFiles(ctx context.Context, p *pipeline.Pipeline, paths []string) error {
	docs := make([]ingest.Document, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		docs = append(docs, ingest.Document{
			SourceID: filepath.ToSlash(path),
			Content:  string(data),
		})
	}

	if len(docs) == 1 {
		result, err := p.Ingest(ctx, docs[0])
		if err != nil {
			return fmt.Errorf("ingesting %s: %w", docs[0].SourceID, err)
		}
		printIngestResult(result)
		return nil
	}

	batch, err := p.IngestAll(ctx, docs)
	if err != nil {
		return fmt.Errorf("ingesting batch: %w", err)
	}

	fmt.Printf("Indexed %d chunks from %d/%d documents in %s.\n",
		batch.ChunksIndexed, batch.SucceededDocs, batch.TotalDocs,
		batch.Elapsed.Round(time.Millisecond))
	for _, f := range batch.FailedDocs {
		fmt.Fprintf(os.Stderr, "failed: %s: %s\n", f.SourceID, f.Reason)
	}
	if len(batch.FailedDocs) > 0 {
		return fmt.Errorf("%d of %d documents failed", len(batch.FailedDocs), batch.TotalDocs)
	}
	return nil
}

func printIngestResult(r *ingest.Result) {
	fmt.Printf("Indexed %d chunks from %s in %s.\n",
		r.ChunksIndexed, r.SourceID, r.Elapsed.Round(time.Millisecond))
	if r.ChunksDeleted > 0 {
		fmt.Printf("Replaced %d chunks from the previous version.\n", r.ChunksDeleted)
	}
}
