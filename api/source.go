package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
)

// MaxIngestBodyBytes caps the ingest request body. Documents larger
// than this should be split by the caller before upload.
const MaxIngestBodyBytes = 10 << 20

// SourceHandler handles document ingestion and source management.
type SourceHandler struct {
	pipeline *pipeline.Pipeline
	logger   log.Logger
}

// NewSourceHandler creates a new source handler.
func NewSourceHandler(p *pipeline.Pipeline, logger log.Logger) *SourceHandler {
	return &SourceHandler{pipeline: p, logger: logger}
}

// RegisterRoutes registers source routes on the given mux.
func (h *SourceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ingest", h.ingest)
	mux.HandleFunc("DELETE /api/sources/{id}", h.deleteSource)
	mux.HandleFunc("GET /api/status", h.status)
}

// IngestRequest is the request body for indexing one document.
type IngestRequest struct {
	SourceID string            `json:"source_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IngestResponse reports a completed ingestion.
type IngestResponse struct {
	SourceID      string `json:"source_id"`
	JobID         string `json:"job_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
	ChunksDeleted int    `json:"chunks_deleted"`
	ElapsedMS     int64  `json:"elapsed_ms"`
}

// ingest indexes one document, replacing any previous generation of
// the same source.
func (h *SourceHandler) ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxIngestBodyBytes)

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body exceeds ingest limit")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}

	result, err := h.pipeline.Ingest(r.Context(), ingest.Document{
		SourceID: req.SourceID,
		Content:  req.Content,
		Metadata: req.Metadata,
	})
	if err != nil {
		status, code := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("ingest failed", "source_id", req.SourceID, "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		SourceID:      result.SourceID,
		JobID:         result.JobID,
		ChunksIndexed: result.ChunksIndexed,
		ChunksDeleted: result.ChunksDeleted,
		ElapsedMS:     result.Elapsed.Milliseconds(),
	})
}

// DeleteSourceResponse reports a completed deletion.
type DeleteSourceResponse struct {
	SourceID      string `json:"source_id"`
	ChunksDeleted int64  `json:"chunks_deleted"`
}

// deleteSource removes every chunk of one source. Deleting a source
// that was never ingested reports zero chunks, not an error.
func (h *SourceHandler) deleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := r.PathValue("id")
	if sourceID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "source id is required")
		return
	}

	deleted, err := h.pipeline.DeleteSource(r.Context(), sourceID)
	if err != nil {
		status, code := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("delete failed", "source_id", sourceID, "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, DeleteSourceResponse{
		SourceID:      sourceID,
		ChunksDeleted: deleted,
	})
}

// status reports the chunk count and store reachability.
func (h *SourceHandler) status(w http.ResponseWriter, r *http.Request) {
	status, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.logger.Error("status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "status check failed")
		return
	}
	writeJSON(w, http.StatusOK, status)
}
