package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/koopa0/ragpipe/internal/generate"
	"github.com/koopa0/ragpipe/internal/ingest"
	"github.com/koopa0/ragpipe/internal/pipeline"
	"github.com/koopa0/ragpipe/internal/prompt"
	"github.com/koopa0/ragpipe/internal/retrieve"
)

// Tool names exposed to MCP clients.
const (
	ToolSearch       = "rag_search"
	ToolAsk          = "rag_ask"
	ToolIngest       = "rag_ingest"
	ToolDeleteSource = "rag_delete_source"
	ToolStatus       = "rag_status"
)

// SearchInput is the input schema for the rag_search tool.
type SearchInput struct {
	Query       string  `json:"query" jsonschema:"The question or phrase to search indexed documents for"`
	TopK        int     `json:"top_k,omitempty" jsonschema:"Maximum number of passages to return, default 5"`
	MaxSources  int     `json:"max_sources,omitempty" jsonschema:"Maximum number of distinct sources in the result, default 3"`
	MinScore    float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity score a passage must reach, between 0 and 1"`
	TokenBudget int     `json:"token_budget,omitempty" jsonschema:"Approximate token budget the passages must fit into, default 2048"`
}

// AskInput is the input schema for the rag_ask tool.
type AskInput struct {
	Query       string  `json:"query" jsonschema:"The question to answer using indexed documents"`
	TopK        int     `json:"top_k,omitempty" jsonschema:"Maximum number of passages to retrieve, default 5"`
	MaxSources  int     `json:"max_sources,omitempty" jsonschema:"Maximum number of distinct sources to draw from, default 3"`
	MinScore    float64 `json:"min_score,omitempty" jsonschema:"Minimum similarity score a passage must reach, between 0 and 1"`
	TokenBudget int     `json:"token_budget,omitempty" jsonschema:"Approximate token budget for retrieved context, default 2048"`
}

// IngestInput is the input schema for the rag_ingest tool.
type IngestInput struct {
	SourceID string `json:"source_id" jsonschema:"Stable identifier for the document, e.g. a path or URL"`
	Content  string `json:"content" jsonschema:"Full document text to chunk, embed and index"`
}

// DeleteSourceInput is the input schema for the rag_delete_source tool.
type DeleteSourceInput struct {
	SourceID string `json:"source_id" jsonschema:"Identifier of the source whose indexed chunks should be removed"`
}

// StatusInput is the input schema for the rag_status tool. It takes no
// arguments.
type StatusInput struct{}

// registerTools registers all pipeline tools to the MCP server.
// Tools: rag_search, rag_ask, rag_ingest, rag_delete_source, rag_status
func (s *Server) registerTools() error {
	searchSchema, err := jsonschema.For[SearchInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolSearch, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolSearch,
		Description: "Search indexed documents using semantic similarity. " +
			"Returns the most relevant passages with their source and score.",
		InputSchema: searchSchema,
	}, s.Search)

	askSchema, err := jsonschema.For[AskInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolAsk, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolAsk,
		Description: "Answer a question using indexed documents. " +
			"Retrieves relevant passages, generates a grounded answer and lists the sources it drew from.",
		InputSchema: askSchema,
	}, s.Ask)

	ingestSchema, err := jsonschema.For[IngestInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolIngest, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolIngest,
		Description: "Index a document for retrieval. " +
			"Replaces any previously indexed content with the same source_id.",
		InputSchema: ingestSchema,
	}, s.Ingest)

	deleteSchema, err := jsonschema.For[DeleteSourceInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolDeleteSource, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolDeleteSource,
		Description: "Remove all indexed chunks belonging to a source. " +
			"Deleting an unknown source succeeds and reports zero chunks removed.",
		InputSchema: deleteSchema,
	}, s.DeleteSource)

	statusSchema, err := jsonschema.For[StatusInput](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", ToolStatus, err)
	}

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: ToolStatus,
		Description: "Report the current index size and whether the vector store is reachable.",
		InputSchema: statusSchema,
	}, s.Status)

	return nil
}

// Search handles the rag_search MCP tool call.
func (s *Server) Search(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Query) == "" {
		return errorResult("query is required"), nil, nil
	}

	result, err := s.pipeline.Query(ctx, in.Query, retrieveOptions(in.TopK, in.MaxSources, in.MinScore, in.TokenBudget)...)
	if err != nil {
		if isCallerError(err) {
			return errorResult(err.Error()), nil, nil
		}
		return nil, nil, fmt.Errorf("%s failed: %w", ToolSearch, err)
	}

	return textResult(formatPassages(result)), nil, nil
}

// Ask handles the rag_ask MCP tool call. The streamed answer is buffered
// into a single text result because MCP tool calls return once.
func (s *Server) Ask(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, any, error) {
	if strings.TrimSpace(in.Query) == "" {
		return errorResult("query is required"), nil, nil
	}

	events, err := s.pipeline.Ask(ctx, pipeline.AskRequest{
		Query:   in.Query,
		Options: retrieveOptions(in.TopK, in.MaxSources, in.MinScore, in.TokenBudget),
	})
	if err != nil {
		if isCallerError(err) {
			return errorResult(err.Error()), nil, nil
		}
		return nil, nil, fmt.Errorf("%s failed: %w", ToolAsk, err)
	}

	var answer strings.Builder
	var citations []generate.Citation
	for ev := range events {
		switch ev := ev.(type) {
		case generate.EventDelta:
			answer.WriteString(ev.Text)
		case generate.EventCitations:
			citations = ev.Citations
		case generate.EventError:
			return nil, nil, fmt.Errorf("%s failed: %w", ToolAsk, ev.Err)
		}
	}

	return textResult(formatAnswer(answer.String(), citations)), nil, nil
}

// Ingest handles the rag_ingest MCP tool call.
func (s *Server) Ingest(ctx context.Context, _ *mcp.CallToolRequest, in IngestInput) (*mcp.CallToolResult, any, error) {
	result, err := s.pipeline.Ingest(ctx, ingest.Document{
		SourceID: in.SourceID,
		Content:  in.Content,
	})
	if err != nil {
		if isCallerError(err) {
			return errorResult(err.Error()), nil, nil
		}
		return nil, nil, fmt.Errorf("%s failed: %w", ToolIngest, err)
	}

	text := fmt.Sprintf("Indexed %d chunks from %s in %s.",
		result.ChunksIndexed, result.SourceID, result.Elapsed.Round(time.Millisecond))
	if result.ChunksDeleted > 0 {
		text += fmt.Sprintf(" Replaced %d chunks from the previous version.", result.ChunksDeleted)
	}

	return textResult(text), nil, nil
}

// DeleteSource handles the rag_delete_source MCP tool call.
func (s *Server) DeleteSource(ctx context.Context, _ *mcp.CallToolRequest, in DeleteSourceInput) (*mcp.CallToolResult, any, error) {
	deleted, err := s.pipeline.DeleteSource(ctx, in.SourceID)
	if err != nil {
		if isCallerError(err) {
			return errorResult(err.Error()), nil, nil
		}
		return nil, nil, fmt.Errorf("%s failed: %w", ToolDeleteSource, err)
	}

	return textResult(fmt.Sprintf("Deleted %d chunks from %s.", deleted, in.SourceID)), nil, nil
}

// Status handles the rag_status MCP tool call.
func (s *Server) Status(ctx context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, any, error) {
	status, err := s.pipeline.Status(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s failed: %w", ToolStatus, err)
	}

	if !status.StoreReachable {
		return textResult("Vector store unreachable. Indexed chunk count unknown."), nil, nil
	}

	return textResult(fmt.Sprintf("Vector store reachable. %d chunks indexed.", status.ChunkCount)), nil, nil
}

// retrieveOptions maps optional tuning fields onto retrieval options.
// Zero values defer to the retriever defaults.
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

// isCallerError reports whether err is the caller's fault rather than a
// system failure. Caller errors become IsError tool results so the model
// can read and correct them; system failures propagate as protocol
// errors.
func isCallerError(err error) bool {
	return errors.Is(err, ingest.ErrInvalidInput) || errors.Is(err, prompt.ErrBudgetExceeded)
}

// formatPassages renders a retrieval result as numbered text blocks.
func formatPassages(result *retrieve.Result) string {
	if len(result.Passages) == 0 {
		return "No passages matched the query."
	}

	var b strings.Builder
	for i, p := range result.Passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] (source: %s, score %.2f)\n%s", p.Index, p.SourceID, p.Score, p.Text)
	}
	if result.Truncated {
		b.WriteString("\n\nNote: further passages were dropped to fit the token budget.")
	}
	return b.String()
}

// formatAnswer appends a sources footer to a buffered answer.
func formatAnswer(answer string, citations []generate.Citation) string {
	if len(citations) == 0 {
		return answer
	}

	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\nSources:\n")
	for i, c := range citations {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%d] %s (score %.2f)", c.Index, c.SourceID, c.Score)
	}
	return b.String()
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}
}
