// Package api exposes the RAG pipeline over HTTP.
//
// Endpoints:
//
//	POST   /api/ingest        index one document
//	POST   /api/query         retrieve passages (no generation)
//	POST   /api/ask           answer with SSE streaming
//	DELETE /api/sources/{id}  remove a source's chunks
//	GET    /api/status        chunk count and store reachability
//	GET    /health            liveness probe
//	GET    /ready             readiness probe (store ping)
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: recovery, request ID, logging
//   - health.go: liveness and readiness probes
//   - source.go: ingestion, deletion, status
//   - query.go: retrieval-only endpoint
//   - ask.go: SSE answer streaming
//   - response.go: JSON response helpers
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/koopa0/ragpipe/internal/embedding"
	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:8080"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to block Slowloris-style
	// connection hoarding.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on
	// keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// ServerConfig wires a Server.
type ServerConfig struct {
	Pipeline *pipeline.Pipeline
	Logger   log.Logger
}

// Server is the HTTP server for the pipeline's REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health *HealthHandler
	source *SourceHandler
	query  *QueryHandler
	ask    *AskHandler
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		mux:    mux,
		logger: cfg.Logger,
		health: NewHealthHandler(cfg.Pipeline, cfg.Logger),
		source: NewSourceHandler(cfg.Pipeline, cfg.Logger),
		query:  NewQueryHandler(cfg.Pipeline, cfg.Logger),
		ask:    NewAskHandler(cfg.Pipeline, cfg.Logger),
	}

	s.health.RegisterRoutes(mux)
	s.source.RegisterRoutes(mux)
	s.query.RegisterRoutes(mux)
	s.ask.RegisterRoutes(mux)

	return s, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → request ID → logging → handler.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		requestIDMiddleware,
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is
// cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		IdleTimeout:       IdleTimeout,
		// WriteTimeout stays disabled: /api/ask streams for as long as
		// generation runs, bounded by client disconnect instead.
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// statusForError maps pipeline failures to HTTP statuses: bad input is
// the caller's fault, unavailable dependencies are retryable, anything
// else is ours.
func statusForError(err error) (status int, code string) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, prompt.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity, "budget_exceeded"
	case errors.Is(err, vectorstore.ErrUnavailable),
		errors.Is(err, embedding.ErrBackendUnavailable),
		errors.Is(err, generate.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
