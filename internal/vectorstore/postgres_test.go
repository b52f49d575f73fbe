package vectorstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/testutil"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// vec expands the leading components into a vector matching the
// migrated chunks schema dimension.
func vec(vals ...float32) []float32 {
	v := make([]float32, 768)
	copy(v, vals)
	return v
}

func newPostgresStore(t *testing.T) *vectorstore.Postgres {
	t.Helper()

	db := testutil.SetupTestDB(t)
	store, err := vectorstore.NewPostgres(db.Pool, 768, log.NewNop())
	if err != nil {
		t.Fatalf("NewPostgres() = %v", err)
	}
	return store
}

func TestPostgres_UpsertAndSearch(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	created := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	chunks := []vectorstore.Chunk{
		{
			ID:          "aaa",
			SourceID:    "docs/a.md",
			Content:     "chunking splits documents",
			StartOffset: 0,
			EndOffset:   25,
			Embedding:   vec(1),
			Metadata:    map[string]string{"title": "Chunking"},
			CreatedAt:   created,
		},
		{
			ID:        "bbb",
			SourceID:  "docs/b.md",
			Content:   "retrieval ranks by similarity",
			Embedding: vec(0.8, 0.6),
			CreatedAt: created,
		},
		{
			ID:        "ccc",
			SourceID:  "docs/c.md",
			Content:   "generation cites passages",
			Embedding: vec(0, 1),
			CreatedAt: created,
		},
	}
	if err := store.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := store.Search(ctx, vec(1), 2)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search() returned %d results, want 2", len(results))
	}

	if results[0].ID != "aaa" || results[1].ID != "bbb" {
		t.Errorf("result order = [%s %s], want [aaa bbb]", results[0].ID, results[1].ID)
	}
	if results[0].Score < 0.999 {
		t.Errorf("identical vector scored %v, want ~1.0", results[0].Score)
	}
	if got := results[1].Score; got < 0.79 || got > 0.81 {
		t.Errorf("partial match scored %v, want ~0.8", got)
	}

	top := results[0]
	if top.SourceID != "docs/a.md" || top.Content != "chunking splits documents" {
		t.Errorf("top hit = %q from %q, want original content and source", top.Content, top.SourceID)
	}
	if top.StartOffset != 0 || top.EndOffset != 25 {
		t.Errorf("offsets = %d..%d, want 0..25", top.StartOffset, top.EndOffset)
	}
	if top.Metadata["title"] != "Chunking" {
		t.Errorf("Metadata = %v, want title=Chunking", top.Metadata)
	}
}

func TestPostgres_SearchTieBreaksByID(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	chunks := []vectorstore.Chunk{
		{ID: "zzz", SourceID: "docs/z.md", Content: "z", Embedding: vec(1)},
		{ID: "mmm", SourceID: "docs/m.md", Content: "m", Embedding: vec(1)},
		{ID: "aaa", SourceID: "docs/a.md", Content: "a", Embedding: vec(1)},
	}
	if err := store.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	results, err := store.Search(ctx, vec(1), 3)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() returned %d results, want 3", len(results))
	}

	gotIDs := []string{results[0].ID, results[1].ID, results[2].ID}
	wantIDs := []string{"aaa", "mmm", "zzz"}
	for i := range wantIDs {
		if gotIDs[i] != wantIDs[i] {
			t.Fatalf("tie order = %v, want %v", gotIDs, wantIDs)
		}
	}
}

func TestPostgres_UpsertReplacesByID(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	first := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	orig := vectorstore.Chunk{
		ID: "aaa", SourceID: "docs/a.md", Content: "old text",
		Embedding: vec(1), CreatedAt: first,
	}
	if err := store.Upsert(ctx, []vectorstore.Chunk{orig}); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	updated := orig
	updated.Content = "new text"
	updated.CreatedAt = first.Add(24 * time.Hour)
	if err := store.Upsert(ctx, []vectorstore.Chunk{updated}); err != nil {
		t.Fatalf("second Upsert() = %v", err)
	}

	count, err := store.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if count != 1 {
		t.Fatalf("Count() = %d after replacing upsert, want 1", count)
	}

	results, err := store.Search(ctx, vec(1), 1)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if results[0].Content != "new text" {
		t.Errorf("Content = %q, want replaced text", results[0].Content)
	}
	// First indexing time survives the replace.
	if !results[0].CreatedAt.Equal(first) {
		t.Errorf("CreatedAt = %v, want original %v", results[0].CreatedAt, first)
	}
}

func TestPostgres_DeleteBySource(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	chunks := []vectorstore.Chunk{
		{ID: "a1", SourceID: "docs/a.md", Content: "a one", Embedding: vec(1)},
		{ID: "a2", SourceID: "docs/a.md", Content: "a two", Embedding: vec(0, 1)},
		{ID: "b1", SourceID: "docs/b.md", Content: "b one", Embedding: vec(0, 0, 1)},
	}
	if err := store.Upsert(ctx, chunks); err != nil {
		t.Fatalf("Upsert() = %v", err)
	}

	deleted, err := store.DeleteBySource(ctx, "docs/a.md")
	if err != nil {
		t.Fatalf("DeleteBySource() = %v", err)
	}
	if deleted != 2 {
		t.Errorf("DeleteBySource() = %d, want 2", deleted)
	}

	remaining, err := store.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count() = %v", err)
	}
	if remaining != 1 {
		t.Errorf("Count() = %d after delete, want 1", remaining)
	}

	deleted, err = store.DeleteBySource(ctx, "docs/never-indexed.md")
	if err != nil {
		t.Fatalf("DeleteBySource(unknown) = %v", err)
	}
	if deleted != 0 {
		t.Errorf("DeleteBySource(unknown) = %d, want 0", deleted)
	}
}

func TestPostgres_SearchEmptyIndex(t *testing.T) {
	store := newPostgresStore(t)

	results, err := store.Search(context.Background(), vec(1), 5)
	if err != nil {
		t.Fatalf("Search() = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("Search() = %v, want empty non-nil slice", results)
	}
}

func TestPostgres_DimensionMismatch(t *testing.T) {
	store := newPostgresStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, []vectorstore.Chunk{
		{ID: "aaa", SourceID: "docs/a.md", Content: "a", Embedding: []float32{1, 0}},
	})
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Upsert(2-dim) = %v, want ErrDimensionMismatch", err)
	}

	_, err = store.Search(ctx, []float32{1, 0}, 5)
	if !errors.Is(err, vectorstore.ErrDimensionMismatch) {
		t.Errorf("Search(2-dim) = %v, want ErrDimensionMismatch", err)
	}
}

func TestPostgres_Ping(t *testing.T) {
	store := newPostgresStore(t)

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v, want nil", err)
	}
}
