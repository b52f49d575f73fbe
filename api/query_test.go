package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/koopa0/ragpipe/internal/vectorstore"
)

func TestQueryEndpoint(t *testing.T) {
	t.Parallel()

	srv, setup := newTestServer(t)
	handler := srv.Handler()

	const (
		relevant = "chunk windows overlap by fifty runes"
		noise    = "completely unrelated release notes"
		question = "how much do chunks overlap?"
	)
	setup.Embedder.SetVector(relevant, []float32{1, 0, 0})
	setup.Embedder.SetVector(question, []float32{1, 0, 0})

	for _, doc := range []IngestRequest{
		{SourceID: "docs/chunking.md", Content: relevant},
		{SourceID: "docs/noise.md", Content: noise},
	} {
		if w := postJSON(t, handler, "/api/ingest", doc); w.Code != http.StatusOK {
			t.Fatalf("ingest %s: status %d", doc.SourceID, w.Code)
		}
	}

	w := postJSON(t, handler, "/api/query", QueryRequest{Query: question, MinScore: 0.5})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	resp := decodeBody[QueryResponse](t, w)
	if len(resp.Passages) != 1 {
		t.Fatalf("got %d passages, want 1: %+v", len(resp.Passages), resp.Passages)
	}
	p := resp.Passages[0]
	if p.SourceID != "docs/chunking.md" {
		t.Errorf("source_id = %q, want docs/chunking.md", p.SourceID)
	}
	if p.Text != relevant {
		t.Errorf("text = %q", p.Text)
	}
	if p.Index != 1 {
		t.Errorf("index = %d, want 1", p.Index)
	}
	if p.Score < 0.99 {
		t.Errorf("score = %f, want ~1.0", p.Score)
	}
	if len(p.ChunkID) != 16 {
		t.Errorf("chunk_id = %q, want 16 hex chars", p.ChunkID)
	}
	if resp.Truncated {
		t.Error("truncated = true, want false")
	}
}

func TestQueryEndpoint_EmptyQuery(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	w := postJSON(t, srv.Handler(), "/api/query", QueryRequest{Query: "   "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Error != "invalid_input" {
		t.Errorf("error = %q, want invalid_input", resp.Error)
	}
}

func TestQueryEndpoint_StoreUnavailable(t *testing.T) {
	t.Parallel()

	srv, setup := newTestServer(t)
	setup.Store.FailSearch(fmt.Errorf("%w: connection refused", vectorstore.ErrUnavailable))

	w := postJSON(t, srv.Handler(), "/api/query", QueryRequest{Query: "anything"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[ErrorResponse](t, w)
	if resp.Error != "unavailable" {
		t.Errorf("error = %q, want unavailable", resp.Error)
	}
}
