package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func vectorWeightProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "number",
		"description": "Share of the fused score taken from semantic similarity (0 = keyword only, 1 = semantic only). Defaults to the configured weight.",
		"minimum":     0.0,
		"maximum":     1.0,
	}
}

func limitProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
		"minimum":     1,
		"maximum":     100,
	}
}

// indexCodebaseTool returns the tool definition for index_codebase
func indexCodebaseTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_codebase",
		Description: "Index the project (or a directory inside it) so it can be searched. Unchanged files are skipped unless mode is full.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Absolute path of the directory to index. Defaults to the project root.",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "incremental skips unchanged files, full re-indexes everything, parallel parses files concurrently",
					"enum":        []string{"incremental", "full", "parallel"},
					"default":     "incremental",
				},
			},
		},
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_code",
		Description: "Search indexed code with natural language or keyword queries using hybrid keyword and semantic ranking",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or identifiers)",
				},
				"limit":         limitProperty("Maximum number of chunks to return (1-100)"),
				"vector_weight": vectorWeightProperty(),
				"include_stale": map[string]interface{}{
					"type":        "boolean",
					"description": "Include chunks superseded by later edits that are still waiting for compaction",
					"default":     false,
				},
				"tiers": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these source tiers",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"project", "dependency", "stdlib"},
					},
				},
			},
			Required: []string{"query"},
		},
	}
}

// searchFilesTool returns the tool definition for search_files
func searchFilesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_files",
		Description: "Rank files by their best matching chunk for a query",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or identifiers)",
				},
				"limit":         limitProperty("Maximum number of files to return (1-100)"),
				"vector_weight": vectorWeightProperty(),
			},
			Required: []string{"query"},
		},
	}
}

// researchCodeTool returns the tool definition for research_code
func researchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        "research_code",
		Description: "Answer a question by searching, then following the calls, types and imports of the matching code for a bounded number of hops",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "Question or topic to research",
				},
				"max_hops": map[string]interface{}{
					"type":        "integer",
					"description": "Expansion rounds after the initial search (0 = initial search only)",
					"minimum":     0,
					"maximum":     5,
				},
				"per_hop_limit": map[string]interface{}{
					"type":        "integer",
					"description": "Distinct entities followed per hop",
					"minimum":     1,
				},
				"vector_weight": vectorWeightProperty(),
			},
			Required: []string{"question"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics for the project: files, chunks, stale chunks, size and embedding provider",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// compactIndexTool returns the tool definition for compact_index
func compactIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "compact_index",
		Description: "Rebuild the index without stale chunks. Searches keep working while it runs.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
