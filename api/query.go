package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/retrieve"
)

// QueryHandler handles the retrieval-only endpoint.
type QueryHandler struct {
	pipeline *pipeline.Pipeline
	logger   log.Logger
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(p *pipeline.Pipeline, logger log.Logger) *QueryHandler {
	return &QueryHandler{pipeline: p, logger: logger}
}

// RegisterRoutes registers query routes on the given mux.
func (h *QueryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/query", h.query)
}

// QueryRequest is the request body for retrieval. Zero-valued tuning
// fields keep the server defaults.
type QueryRequest struct {
	Query       string  `json:"query"`
	TopK        int     `json:"top_k,omitempty"`
	MaxSources  int     `json:"max_sources,omitempty"`
	MinScore    float64 `json:"min_score,omitempty"`
	TokenBudget int     `json:"token_budget,omitempty"`
}

// PassageJSON is the wire form of one retrieved passage.
type PassageJSON struct {
	ChunkID  string  `json:"chunk_id"`
	SourceID string  `json:"source_id"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
	Index    int     `json:"index"`
}

// QueryResponse is the retrieval result.
type QueryResponse struct {
	Passages  []PassageJSON `json:"passages"`
	Truncated bool          `json:"truncated"`
}

// retrieveOptions converts request tuning fields into retrieval
// options. Non-positive values are left to the option guards.
func retrieveOptions(topK, maxSources int, minScore float64, tokenBudget int) []retrieve.Option {
	opts := []retrieve.Option{
		retrieve.WithTopK(topK),
		retrieve.WithMaxSources(maxSources),
		retrieve.WithTokenBudget(tokenBudget),
	}
	if minScore > 0 {
		opts = append(opts, retrieve.WithScoreThreshold(minScore))
	}
	return opts
}

func passagesJSON(passages []retrieve.Passage) []PassageJSON {
	out := make([]PassageJSON, len(passages))
	for i, p := range passages {
		out[i] = PassageJSON{
			ChunkID:  p.ChunkID,
			SourceID: p.SourceID,
			Text:     p.Text,
			Score:    p.Score,
			Index:    p.Index,
		}
	}
	return out
}

// query runs retrieval without generation, for debugging what context
// a question would get.
func (h *QueryHandler) query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "query is required")
		return
	}

	result, err := h.pipeline.Query(r.Context(), req.Query,
		retrieveOptions(req.TopK, req.MaxSources, req.MinScore, req.TokenBudget)...)
	if err != nil {
		status, code := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("query failed", "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Passages:  passagesJSON(result.Passages),
		Truncated: result.Truncated,
	})
}
