// Package mcp implements a Model Context Protocol (MCP) server.
//
// The MCP server exposes the retrieval pipeline via the Model Context
// Protocol, so MCP clients such as editors and AI assistants can search
// and manage the document index through a standardized tool interface.
//
// # Supported Tools
//
//   - rag_search: semantic search over indexed documents
//   - rag_ask: retrieve, then generate a grounded answer with sources
//   - rag_ingest: chunk, embed and index a document
//   - rag_delete_source: remove all chunks belonging to a source
//   - rag_status: index size and vector store reachability
//
// # Tool Handler Pattern
//
// Tool handlers follow Go's net/http.Handler pattern:
//
//  1. Define an input struct with JSON tags and schema descriptions
//  2. Infer the JSON schema using jsonschema-go
//  3. Create an mcp.Tool with name, description and schema
//  4. Register a typed handler method using mcp.AddTool
//
// # Error Handling
//
// Errors split by fault. Caller mistakes (missing fields, a query that
// exceeds the prompt budget) come back as IsError tool results, so the
// calling model can read the message and correct its input. System
// failures (store unreachable, backend down) propagate as Go errors and
// become MCP protocol errors.
//
// # Serving
//
// The server is transport-agnostic. The CLI runs it over stdio:
//
//	srv, err := mcp.NewServer(mcp.Config{
//		Name:     "ragpipe",
//		Version:  version,
//		Pipeline: p,
//		Logger:   logger,
//	})
//	if err != nil {
//		return err
//	}
//	return srv.Run(ctx, &mcpSdk.StdioTransport{})
package mcp
