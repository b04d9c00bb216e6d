// Package mcp exposes the minutes pipeline as MCP tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the corpus, extraction and publisher services in process. Tools:
//
//   - ingest_notes: store a meeting document as a corpus
//   - search_passages: similarity search within a corpus
//   - extract_tasks: run retrieval and the extraction fallback chain
//   - publish_issues: create (or preview) deduplicated tracker issues
//
// Passage text and task bodies are scrubbed for secrets before they are
// returned to clients.
package mcp
