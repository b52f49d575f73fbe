package api

import (
	"net/http"

	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
)

// HealthHandler handles the liveness and readiness probes.
type HealthHandler struct {
	pipeline *pipeline.Pipeline
	logger   log.Logger
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(p *pipeline.Pipeline, logger log.Logger) *HealthHandler {
	return &HealthHandler{pipeline: p, logger: logger}
}

// RegisterRoutes registers health routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.liveness)
	mux.HandleFunc("GET /ready", h.readiness)
}

// liveness returns 200 OK while the process is alive.
func (h *HealthHandler) liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness returns 200 OK only when the vector store answers a ping.
func (h *HealthHandler) readiness(w http.ResponseWriter, r *http.Request) {
	status, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.logger.Error("readiness check failed", "error", err)
		http.Error(w, "status check failed", http.StatusServiceUnavailable)
		return
	}
	if !status.StoreReachable {
		http.Error(w, "vector store not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
