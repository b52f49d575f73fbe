// Package cmd provides CLI commands for ragpipe.
//
// Commands:
//   - ingest: chunk, embed and index documents from files or stdin
//   - query: retrieve matching passages for a query
//   - ask: retrieve context and stream a grounded answer
//   - delete: remove an indexed source
//   - status: index size and vector store health
//   - serve: HTTP API server with SSE streaming
//   - mcp: Model Context Protocol server for editor integration
//
// Signal handling and graceful shutdown are implemented for all
// commands via context cancellation.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/koopa0/ragpipe/internal/app"
	"github.com/koopa0/ragpipe/internal/config"
	"github.com/koopa0/ragpipe/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Execute is the main entry point for the ragpipe CLI application.
func Execute() error {
	// Initialize logger once at entry point. Stderr keeps stdout clean
	// for command output and the MCP stdio transport.
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(log.New(log.Config{Level: level}))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "ingest":
		return runIngest()
	case "query":
		return runQuery()
	case "ask":
		return runAsk()
	case "delete":
		return runDelete()
	case "status":
		return runStatus()
	case "serve":
		return runServe()
	case "mcp":
		return runMCP()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// initApp loads configuration and wires the application.
func initApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return nil, fmt.Errorf("initializing application: %w", err)
	}
	return a, nil
}

// closeApp shuts the application down, logging instead of failing the
// command over cleanup errors.
func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Warn("shutdown error", "error", err)
	}
}

// argsAfterCommand returns the CLI arguments following the subcommand.
func argsAfterCommand() []string {
	if len(os.Args) > 2 {
		return os.Args[2:]
	}
	return nil
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("ragpipe - Retrieval-augmented answering over your documents")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  ragpipe ingest [flags] [files...]  Index documents (stdin with --source when no files)")
	fmt.Println("  ragpipe query [flags] <text>       Retrieve matching passages")
	fmt.Println("  ragpipe ask [flags] <question>     Answer a question from the index")
	fmt.Println("  ragpipe delete <source-id>         Remove a source from the index")
	fmt.Println("  ragpipe status                     Show index size and store health")
	fmt.Println("  ragpipe serve [addr]               Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  ragpipe mcp                        Start MCP server (stdio, for editors)")
	fmt.Println("  ragpipe --version                  Show version information")
	fmt.Println("  ragpipe --help                     Show this help")
	fmt.Println()
	fmt.Println("Retrieval flags (query, ask):")
	fmt.Println("  --top-k N          Passages to retrieve (0 = config default)")
	fmt.Println("  --max-sources N    Distinct sources to keep (0 = config default)")
	fmt.Println("  --min-score X      Minimum similarity score")
	fmt.Println("  --token-budget N   Context token budget (0 = config default)")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY     API key when provider is gemini (default)")
	fmt.Println("  OPENAI_API_KEY     API key when provider is openai")
	fmt.Println("  DATABASE_URL       PostgreSQL URL when store_backend is pgvector")
	fmt.Println("  DEBUG              Enable debug logging")
	fmt.Println()
	fmt.Println("Configuration file: ~/.ragpipe/config.yaml (or ./config.yaml)")
}
