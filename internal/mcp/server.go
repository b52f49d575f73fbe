package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragpipe/internal/log"
	"github.com/koopa0/ragpipe/internal/pipeline"
)

// Config holds MCP server configuration.
type Config struct {
	// Name is the server name reported to clients during initialization.
	Name string

	// Version is the server version reported to clients.
	Version string

	// Pipeline is the retrieval pipeline the tools operate on.
	Pipeline *pipeline.Pipeline

	// Logger records server lifecycle events. Defaults to a no-op logger.
	Logger log.Logger
}

// Server wraps the MCP SDK server and exposes the pipeline as tools.
type Server struct {
	mcpServer *mcp.Server
	pipeline  *pipeline.Pipeline
	logger    log.Logger
}

// NewServer creates an MCP server and registers the retrieval tools on it.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		pipeline: cfg.Pipeline,
		logger:   cfg.Logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport.
// This is a blocking call that handles all MCP protocol communication.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	s.logger.Info("mcp server starting")
	defer s.logger.Info("mcp server stopped")

	return s.mcpServer.Run(ctx, transport)
}
