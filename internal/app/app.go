// Package app provides application initialization and dependency injection.
//
// Setup turns a validated Config into a ready Pipeline: it opens the
// configured vector store backend, builds the embedding and generation
// backends, and wires the retrieval components together. App is the
// container the entry points (CLI commands, HTTP server, MCP server)
// share; Close releases resources in reverse construction order.
package app

import (
	"github.com/koopa0/ragpipe/internal/config"
	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/vectorstore"
)

// App is the core application container.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Pipeline *pipeline.Pipeline

	// Store is the pipeline's vector store, exposed for commands that
	// need backend-specific behavior.
	Store vectorstore.Store

	storeCleanup func()
	otelCleanup  func()
}

// Close gracefully shuts down all resources.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.storeCleanup != nil {
		a.storeCleanup()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}

	return nil
}
