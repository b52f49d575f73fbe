package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/ingest", IngestRequest{
		SourceID: "docs/a.md",
		Content:  "ragpipe splits documents into overlapping rune windows.",
		Metadata: map[string]string{"title": "Chunking"},
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	resp := decodeBody[IngestResponse](t, w)
	if resp.SourceID != "docs/a.md" {
		t.Errorf("source_id = %q", resp.SourceID)
	}
	if resp.ChunksIndexed != 1 {
		t.Errorf("chunks_indexed = %d, want 1", resp.ChunksIndexed)
	}
	if resp.JobID == "" {
		t.Error("job_id is empty")
	}
}

func TestIngestEndpoint_ReplacesPreviousGeneration(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	handler := srv.Handler()

	first := postJSON(t, handler, "/api/ingest", IngestRequest{
		SourceID: "docs/a.md",
		Content:  "first version",
	})
	if first.Code != http.StatusOK {
		t.Fatalf("first ingest status = %d", first.Code)
	}

	second := postJSON(t, handler, "/api/ingest", IngestRequest{
		SourceID: "docs/a.md",
		Content:  "second version",
	})
	if second.Code != http.StatusOK {
		t.Fatalf("second ingest status = %d", second.Code)
	}
	resp := decodeBody[IngestResponse](t, second)
	if resp.ChunksDeleted != 1 {
		t.Errorf("chunks_deleted = %d, want 1", resp.ChunksDeleted)
	}
}

func TestIngestEndpoint_InvalidInput(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	handler := srv.Handler()

	t.Run("empty content", func(t *testing.T) {
		w := postJSON(t, handler, "/api/ingest", IngestRequest{SourceID: "docs/a.md"})

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		resp := decodeBody[ErrorResponse](t, w)
		if resp.Error != "invalid_input" {
			t.Errorf("error = %q, want invalid_input", resp.Error)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader("{nope"))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", w.Code)
		}
		resp := decodeBody[ErrorResponse](t, w)
		if resp.Error != "invalid_body" {
			t.Errorf("error = %q, want invalid_body", resp.Error)
		}
	})
}

func TestDeleteSourceEndpoint(t *testing.T) {
	t.Parallel()

	srv, setup := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/ingest", IngestRequest{
		SourceID: "docs/gone.md",
		Content:  "short lived document",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", w.Code)
	}

	del := httptest.NewRequest(http.MethodDelete, "/api/sources/docs%2Fgone.md", nil)
	dw := httptest.NewRecorder()
	handler.ServeHTTP(dw, del)

	if dw.Code != http.StatusOK {
		t.Fatalf("delete status = %d, body %s", dw.Code, dw.Body.String())
	}
	resp := decodeBody[DeleteSourceResponse](t, dw)
	if resp.ChunksDeleted != 1 {
		t.Errorf("chunks_deleted = %d, want 1", resp.ChunksDeleted)
	}

	count, err := setup.Store.Count(del.Context(), "docs/gone.md")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 0 {
		t.Errorf("store still has %d chunks", count)
	}
}

func TestDeleteSourceEndpoint_UnknownSource(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/sources/never-ingested", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody[DeleteSourceResponse](t, w)
	if resp.ChunksDeleted != 0 {
		t.Errorf("chunks_deleted = %d, want 0", resp.ChunksDeleted)
	}
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()

	srv, setup := newTestServer(t)
	handler := srv.Handler()

	w := postJSON(t, handler, "/api/ingest", IngestRequest{
		SourceID: "docs/a.md",
		Content:  "counted content",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("ingest status = %d", w.Code)
	}

	sw := httptest.NewRecorder()
	handler.ServeHTTP(sw, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if sw.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", sw.Code)
	}
	status := decodeBody[map[string]any](t, sw)
	if status["chunk_count"] != float64(1) {
		t.Errorf("chunk_count = %v, want 1", status["chunk_count"])
	}
	if status["store_reachable"] != true {
		t.Errorf("store_reachable = %v, want true", status["store_reachable"])
	}

	// An unreachable store is a report, not a failure.
	setup.Store.FailPing(context.DeadlineExceeded)
	defer setup.Store.FailPing(nil)

	uw := httptest.NewRecorder()
	handler.ServeHTTP(uw, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if uw.Code != http.StatusOK {
		t.Fatalf("status endpoint with store down = %d, want 200", uw.Code)
	}
	down := decodeBody[map[string]any](t, uw)
	if down["store_reachable"] != false {
		t.Errorf("store_reachable = %v, want false", down["store_reachable"])
	}
}
