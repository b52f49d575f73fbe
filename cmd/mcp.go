package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/koopa0/ragpipe/internal/mcp"
	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// runMCP initializes and starts the MCP server on stdio transport.
func runMCP() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("starting MCP server", "version", Version)

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(a)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Name:     "ragpipe",
		Version:  Version,
		Pipeline: a.Pipeline,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	slog.Info("MCP server ready", "name", "ragpipe", "version", Version, "transport", "stdio")

	if err := mcpServer.Run(ctx, &mcpSdk.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}

	slog.Info("MCP server shut down gracefully")
	return nil
}
