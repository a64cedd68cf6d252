// Package mcp implements the Model Context Protocol (MCP) server for codeintel.
//
// One server serves one project root. It exposes six tools to AI coding
// assistants:
//   - index_codebase: Index the project, incrementally by default
//   - search_code: Hybrid keyword and semantic search over chunks
//   - search_files: Rank files by their best matching chunk
//   - research_code: Multi-hop expansion across calls, types and imports
//   - get_status: Index statistics and health
//   - compact_index: Drop stale chunks by rebuilding the index
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// The server is started by the serve command and reads requests from
// stdin until the client disconnects:
//
//	codeintel serve --root /path/to/project
//
// # Tool: search_code
//
//	Request:
//	{
//	  "name": "search_code",
//	  "arguments": {
//	    "query": "validate bearer token",
//	    "limit": 5,
//	    "vector_weight": 0.3,
//	    "tiers": ["project"]
//	  }
//	}
//
//	Response:
//	{
//	  "query": "validate bearer token",
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.0161,
//	      "method": "hybrid",
//	      "file": "/path/to/project/auth/token.go",
//	      "start_line": 3,
//	      "end_line": 6,
//	      "symbol": "ValidateToken",
//	      "kind": "function",
//	      "content": "func ValidateToken(token string) bool { ... }"
//	    }
//	  ],
//	  "total_results": 1
//	}
//
// # Tool: research_code
//
// The response carries the visited chunks with the hop that reached them and
// the relationships followed. A relationship whose target was not found in
// the index is reported with "resolved": false.
//
// # Error Handling
//
// Failures are returned as JSON-RPC errors with stable codes:
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32001: Path not found
//   - -32002: Indexing in progress
//   - -32003: Project not indexed
//   - -32004: Empty or invalid query
//   - -32005: Index corrupted; reset and re-index
//   - -32006: Request canceled
//
// # Logging
//
// Stdout is reserved for the protocol. The serve command logs to stderr.
package mcp
