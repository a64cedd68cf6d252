package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/codeintel/internal/config"
	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/internal/logging"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"auth/token.go":    "package auth\n\n// ValidateToken checks a bearer token\nfunc ValidateToken(token string) bool {\n\treturn checkLength(token)\n}\n\nfunc checkLength(token string) bool {\n\treturn len(token) > 10\n}\n",
		"server/server.go": "package server\n\n// Serve starts the HTTP listener\nfunc Serve(addr string) error {\n\treturn nil\n}\n",
	}
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg := config.DefaultConfig()
	cfg.Embedding.Dimension = 64
	e, err := engine.Open(context.Background(), engine.Options{Root: root, Config: cfg, Logger: logging.NewDiscard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	return NewServer(e, logging.NewDiscard()), root
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// decode returns the JSON object carried by a text tool result
func decode(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)

	var text string
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		text = c.Text
	case *mcp.TextContent:
		text = c.Text
	default:
		t.Fatalf("unexpected content type %T", c)
	}

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, code, mcpErr.Code, mcpErr.Message)
}

func TestToolsBeforeIndexing(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	t.Run("status reports not indexed", func(t *testing.T) {
		res, err := s.handleGetStatus(ctx, callRequest("get_status", nil))
		require.NoError(t, err)
		out := decode(t, res)
		assert.Equal(t, false, out["indexed"])
		assert.Equal(t, root, out["root"])
	})

	t.Run("search needs an index", func(t *testing.T) {
		_, err := s.handleSearchCode(ctx, callRequest("search_code", map[string]interface{}{"query": "token"}))
		requireCode(t, err, ErrorCodeNotIndexed)
	})

	t.Run("research needs an index", func(t *testing.T) {
		_, err := s.handleResearchCode(ctx, callRequest("research_code", map[string]interface{}{"question": "token"}))
		requireCode(t, err, ErrorCodeNotIndexed)
	})

	t.Run("compact needs an index", func(t *testing.T) {
		_, err := s.handleCompactIndex(ctx, callRequest("compact_index", nil))
		requireCode(t, err, ErrorCodeNotIndexed)
	})
}

func TestToolsEndToEnd(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleIndexCodebase(ctx, callRequest("index_codebase", map[string]interface{}{}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, true, out["indexed"])
	assert.Equal(t, "incremental", out["mode"])
	assert.Equal(t, float64(2), out["files_indexed"])

	t.Run("second run skips unchanged files", func(t *testing.T) {
		res, err := s.handleIndexCodebase(ctx, callRequest("index_codebase", map[string]interface{}{"path": root}))
		require.NoError(t, err)
		out := decode(t, res)
		assert.Equal(t, float64(0), out["files_indexed"])
		assert.Equal(t, float64(2), out["files_unchanged"])
	})

	t.Run("search_code", func(t *testing.T) {
		res, err := s.handleSearchCode(ctx, callRequest("search_code", map[string]interface{}{
			"query":         "ValidateToken",
			"limit":         float64(3),
			"vector_weight": float64(0),
			"tiers":         []interface{}{"project"},
		}))
		require.NoError(t, err)
		out := decode(t, res)
		results, ok := out["results"].([]interface{})
		require.True(t, ok)
		require.NotEmpty(t, results)
		assert.LessOrEqual(t, len(results), 3)

		first := results[0].(map[string]interface{})
		assert.Equal(t, filepath.Join(root, "auth", "token.go"), first["file"])
		assert.Equal(t, float64(1), first["rank"])
		assert.Equal(t, "project", first["tier"])
	})

	t.Run("search_files", func(t *testing.T) {
		res, err := s.handleSearchFiles(ctx, callRequest("search_files", map[string]interface{}{
			"query":         "Serve listener",
			"vector_weight": float64(0),
		}))
		require.NoError(t, err)
		out := decode(t, res)
		files, ok := out["files"].([]interface{})
		require.True(t, ok)
		require.NotEmpty(t, files)
		assert.Equal(t, filepath.Join(root, "server", "server.go"), files[0].(map[string]interface{})["file"])
	})

	t.Run("research_code", func(t *testing.T) {
		res, err := s.handleResearchCode(ctx, callRequest("research_code", map[string]interface{}{
			"question":      "ValidateToken",
			"max_hops":      float64(1),
			"vector_weight": float64(0),
		}))
		require.NoError(t, err)
		out := decode(t, res)
		assert.NotEmpty(t, out["request_id"])
		assert.NotEmpty(t, out["chunks"])

		stats := out["statistics"].(map[string]interface{})
		assert.LessOrEqual(t, stats["hops_executed"], float64(1))
	})

	t.Run("get_status", func(t *testing.T) {
		res, err := s.handleGetStatus(ctx, callRequest("get_status", nil))
		require.NoError(t, err)
		out := decode(t, res)
		assert.Equal(t, true, out["indexed"])

		stats := out["statistics"].(map[string]interface{})
		assert.Equal(t, float64(2), stats["files_count"])
		assert.Equal(t, float64(2), stats["hashed_files"])
		assert.Equal(t, "local/local-hash", stats["embedding_provider"])
	})

	t.Run("compact_index", func(t *testing.T) {
		res, err := s.handleCompactIndex(ctx, callRequest("compact_index", nil))
		require.NoError(t, err)
		out := decode(t, res)
		assert.Equal(t, true, out["compacted"])
		assert.Equal(t, float64(0), out["chunks_removed"])
	})
}

func TestToolParameterValidation(t *testing.T) {
	s, root := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
		code    int
	}{
		{"relative path", s.handleIndexCodebase, map[string]interface{}{"path": "relative/dir"}, ErrorCodePathNotFound},
		{"missing path", s.handleIndexCodebase, map[string]interface{}{"path": filepath.Join(root, "nope")}, ErrorCodePathNotFound},
		{"file path", s.handleIndexCodebase, map[string]interface{}{"path": filepath.Join(root, "auth", "token.go")}, ErrorCodePathNotFound},
		{"unknown mode", s.handleIndexCodebase, map[string]interface{}{"mode": "turbo"}, ErrorCodeInvalidParams},
		{"missing query", s.handleSearchCode, map[string]interface{}{}, ErrorCodeInvalidQuery},
		{"blank query", s.handleSearchCode, map[string]interface{}{"query": "   "}, ErrorCodeInvalidQuery},
		{"limit too large", s.handleSearchCode, map[string]interface{}{"query": "x", "limit": float64(1000)}, ErrorCodeInvalidParams},
		{"weight out of range", s.handleSearchCode, map[string]interface{}{"query": "x", "vector_weight": float64(1.5)}, ErrorCodeInvalidParams},
		{"unknown tier", s.handleSearchCode, map[string]interface{}{"query": "x", "tiers": []interface{}{"vendor"}}, ErrorCodeInvalidParams},
		{"tiers not a list", s.handleSearchCode, map[string]interface{}{"query": "x", "tiers": "project"}, ErrorCodeInvalidParams},
		{"files missing query", s.handleSearchFiles, map[string]interface{}{}, ErrorCodeInvalidQuery},
		{"missing question", s.handleResearchCode, map[string]interface{}{}, ErrorCodeInvalidQuery},
		{"negative hops", s.handleResearchCode, map[string]interface{}{"question": "x", "max_hops": float64(-1)}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.handler(ctx, callRequest("", tt.args))
			requireCode(t, err, tt.code)
		})
	}

	t.Run("arguments must be an object", func(t *testing.T) {
		req := mcp.CallToolRequest{Params: mcp.CallToolParams{Name: "search_code", Arguments: "query"}}
		_, err := s.handleSearchCode(ctx, req)
		requireCode(t, err, ErrorCodeInvalidParams)
	})
}

func TestErrorCodes(t *testing.T) {
	codes := []int{
		ErrorCodeInvalidParams,
		ErrorCodeInternalError,
		ErrorCodePathNotFound,
		ErrorCodeIndexingInProgress,
		ErrorCodeNotIndexed,
		ErrorCodeInvalidQuery,
		ErrorCodeIndexCorrupted,
		ErrorCodeCanceled,
	}

	seen := make(map[int]bool)
	for _, code := range codes {
		assert.Negative(t, code)
		assert.False(t, seen[code], "duplicate code %d", code)
		seen[code] = true
	}
}

func TestToolError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{context.Canceled, ErrorCodeCanceled},
		{os.ErrPermission, ErrorCodeInternalError},
	}
	for _, tt := range tests {
		requireCode(t, toolError("failed", tt.err), tt.code)
	}

	err := toolError("failed", os.ErrPermission)
	assert.Equal(t, "MCP error -32603: failed", err.Error())
}

func TestArgumentHelpers(t *testing.T) {
	args := map[string]interface{}{
		"flag":  true,
		"count": float64(7),
		"n":     3,
		"name":  "value",
		"w":     0.25,
	}

	assert.True(t, getBoolDefault(args, "flag", false))
	assert.True(t, getBoolDefault(args, "missing", true))
	assert.Equal(t, 7, getIntDefault(args, "count", 0))
	assert.Equal(t, 3, getIntDefault(args, "n", 0))
	assert.Equal(t, 9, getIntDefault(args, "missing", 9))
	assert.Equal(t, "value", getStringDefault(args, "name", ""))
	assert.Equal(t, "d", getStringDefault(args, "count", "d"))

	assert.Nil(t, getIntPtr(args, "missing"))
	require.NotNil(t, getIntPtr(args, "count"))
	assert.Equal(t, 7, *getIntPtr(args, "count"))

	assert.Nil(t, getFloatPtr(args, "missing"))
	require.NotNil(t, getFloatPtr(args, "w"))
	assert.Equal(t, 0.25, *getFloatPtr(args, "w"))
	assert.Equal(t, 3.0, *getFloatPtr(args, "n"))
}

func TestToolDefinitions(t *testing.T) {
	tools := []mcp.Tool{
		indexCodebaseTool(),
		searchCodeTool(),
		searchFilesTool(),
		researchCodeTool(),
		getStatusTool(),
		compactIndexTool(),
	}

	names := make(map[string]bool)
	for _, tool := range tools {
		assert.NotEmpty(t, tool.Name)
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema.Type)
		for _, req := range tool.InputSchema.Required {
			assert.Contains(t, tool.InputSchema.Properties, req, "%s requires undeclared %s", tool.Name, req)
		}
		names[tool.Name] = true
	}
	assert.Len(t, names, 6)
}
