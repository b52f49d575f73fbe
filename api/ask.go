package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/sse"
)

// AskHandler handles the end-to-end question endpoint with SSE
// streaming.
//
// Event types:
//   - delta:     partial answer text {"text": "..."}
//   - citations: sources behind the answer [{"index": 1, ...}]
//   - done:      successful completion {"deltas": n, ...}
//   - error:     failure {"code": "...", "message": "..."}
type AskHandler struct {
	pipeline *pipeline.Pipeline
	logger   log.Logger
}

// NewAskHandler creates a new ask handler.
func NewAskHandler(p *pipeline.Pipeline, logger log.Logger) *AskHandler {
	return &AskHandler{pipeline: p, logger: logger}
}

// RegisterRoutes registers ask routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", h.ask)
}

// AskRequestBody is the request body for one question.
type AskRequestBody struct {
	Query   string        `json:"query"`
	History []MessageJSON `json:"history,omitempty"`

	// Retrieval tuning, zero values keep server defaults.
	TopK        int     `json:"top_k,omitempty"`
	MaxSources  int     `json:"max_sources,omitempty"`
	MinScore    float64 `json:"min_score,omitempty"`
	TokenBudget int     `json:"token_budget,omitempty"`
}

// MessageJSON is one prior conversation turn.
type MessageJSON struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// deltaJSON is the payload of a delta event.
type deltaJSON struct {
	Text string `json:"text"`
}

// doneJSON is the payload of a done event.
type doneJSON struct {
	Deltas      int   `json:"deltas"`
	OutputRunes int   `json:"output_runes"`
	ElapsedMS   int64 `json:"elapsed_ms"`
}

// ask answers one question, streaming the answer as SSE. Failures
// before the stream starts are plain JSON errors with a real status
// code; failures mid-stream arrive as error events because the 200
// header is already on the wire.
func (h *AskHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body is not valid JSON")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "query is required")
		return
	}

	history, err := historyFromJSON(req.History)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	ctx := r.Context()
	events, err := h.pipeline.Ask(ctx, pipeline.AskRequest{
		Query:   req.Query,
		History: history,
		Options: retrieveOptions(req.TopK, req.MaxSources, req.MinScore, req.TokenBudget),
	})
	if err != nil {
		status, code := statusForError(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("ask failed", "error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.logger.Error("streaming unsupported", "error", err)
		// Drain so the generation's span and goroutine wind down.
		for range events {
		}
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	h.streamEvents(ctx, writer, events)
}

// streamEvents forwards generation events to the SSE writer. A write
// failure means the client is gone; the stream is drained to
// completion either way so the producer can finish.
func (h *AskHandler) streamEvents(ctx context.Context, writer *sse.Writer, events <-chan generate.Event) {
	clientGone := false
	for ev := range events {
		if clientGone {
			continue
		}

		var err error
		switch ev := ev.(type) {
		case generate.EventDelta:
			err = writer.WriteJSON(ctx, "delta", deltaJSON{Text: ev.Text})
		case generate.EventCitations:
			err = writer.WriteJSON(ctx, "citations", ev.Citations)
		case generate.EventDone:
			err = writer.WriteJSON(ctx, "done", doneJSON{
				Deltas:      ev.Usage.Deltas,
				OutputRunes: ev.Usage.OutputRunes,
				ElapsedMS:   ev.Usage.Elapsed.Milliseconds(),
			})
		case generate.EventError:
			err = writer.WriteError(sseErrorCode(ev.Err), ev.Err.Error())
		}

		if err != nil {
			h.logger.Debug("client disconnected mid-stream", "error", err)
			clientGone = true
		}
	}
}

// sseErrorCode classifies a stream failure for the error event payload.
func sseErrorCode(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, generate.ErrBackendUnavailable):
		return "backend_unavailable"
	default:
		return "stream_error"
	}
}

// historyFromJSON validates and converts history turns. Only user and
// assistant turns are accepted; the system role is composed
// server-side.
func historyFromJSON(turns []MessageJSON) ([]prompt.Message, error) {
	if len(turns) == 0 {
		return nil, nil
	}
	history := make([]prompt.Message, 0, len(turns))
	for i, turn := range turns {
		switch turn.Role {
		case prompt.RoleUser, prompt.RoleAssistant:
		default:
			return nil, fmt.Errorf("history[%d] role must be user or assistant, got %q", i, turn.Role)
		}
		history = append(history, prompt.Message{Role: turn.Role, Content: turn.Content})
	}
	return history, nil
}
