package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/internal/indexer"
	"github.com/dshills/codeintel/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodePathNotFound       = -32001 // Path does not exist or is not a directory
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeNotIndexed         = -32003 // Project not indexed
	ErrorCodeInvalidQuery       = -32004 // Query parameter is empty or invalid
	ErrorCodeIndexCorrupted     = -32005 // Index must be reset and rebuilt
	ErrorCodeCanceled           = -32006 // Request canceled or timed out
)

const maxReportedErrors = 5

// handleIndexCodebase handles the index_codebase tool invocation
func (s *Server) handleIndexCodebase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	path := getStringDefault(args, "path", "")
	if path != "" {
		if err := validatePath(path); err != nil {
			return nil, newMCPError(ErrorCodePathNotFound, "invalid path", map[string]interface{}{
				"param":  "path",
				"reason": err.Error(),
			})
		}
	}

	mode, err := indexer.ParseMode(getStringDefault(args, "mode", ""))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":  "mode",
			"reason": err.Error(),
		})
	}

	stats, err := s.engine.Index(ctx, path, mode)
	if err != nil {
		return nil, toolError("indexing failed", err)
	}

	response := map[string]interface{}{
		"indexed":         true,
		"mode":            string(stats.Mode),
		"files_scanned":   stats.FilesScanned,
		"files_indexed":   stats.FilesIndexed,
		"files_unchanged": stats.FilesUnchanged,
		"files_failed":    stats.FilesFailed,
		"files_removed":   stats.FilesRemoved,
		"skipped_files":   stats.Skipped,
		"chunks_created":  stats.ChunksCreated,
		"parse_errors":    stats.ParseErrors,
		"duration_ms":     stats.Duration.Milliseconds(),
	}

	if n := len(stats.ErrorMessages); n > 0 {
		if n > maxReportedErrors {
			response["errors"] = stats.ErrorMessages[:maxReportedErrors]
			response["error_count"] = n
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchCode handles the search_code tool invocation
func (s *Server) handleSearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, err := requireQuery(args, "query")
	if err != nil {
		return nil, err
	}
	req := engine.SearchRequest{
		Query:        query,
		Limit:        getIntDefault(args, "limit", 0),
		VectorWeight: getFloatPtr(args, "vector_weight"),
		IncludeStale: getBoolDefault(args, "include_stale", false),
	}
	if req.Tiers, err = getTiers(args, "tiers"); err != nil {
		return nil, err
	}
	if err := validateSearchParams(req.Limit, req.VectorWeight); err != nil {
		return nil, err
	}

	results, err := s.engine.Search(ctx, req)
	if err != nil {
		return nil, toolError("search failed", err)
	}

	formatted := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		c := r.Chunk
		item := map[string]interface{}{
			"rank":       r.Rank,
			"score":      r.Score,
			"method":     string(r.Method),
			"id":         c.ID,
			"file":       c.FilePath,
			"start_line": c.StartLine,
			"end_line":   c.EndLine,
			"kind":       string(c.Kind),
			"language":   string(c.Language),
			"tier":       string(c.Tier),
			"content":    c.Content,
		}
		if c.Symbol != "" {
			item["symbol"] = c.Symbol
		}
		if r.Stale {
			item["stale"] = true
		}
		formatted = append(formatted, item)
	}

	response := map[string]interface{}{
		"query":         query,
		"results":       formatted,
		"total_results": len(formatted),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchFiles handles the search_files tool invocation
func (s *Server) handleSearchFiles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, err := requireQuery(args, "query")
	if err != nil {
		return nil, err
	}
	limit := getIntDefault(args, "limit", 0)
	weight := getFloatPtr(args, "vector_weight")
	if err := validateSearchParams(limit, weight); err != nil {
		return nil, err
	}

	files, err := s.engine.SearchFiles(ctx, query, limit, weight)
	if err != nil {
		return nil, toolError("file search failed", err)
	}

	formatted := make([]map[string]interface{}, 0, len(files))
	for i, f := range files {
		formatted = append(formatted, map[string]interface{}{
			"rank":   i + 1,
			"file":   f.FilePath,
			"score":  f.Score,
			"chunks": f.Chunks,
		})
	}

	response := map[string]interface{}{
		"query":       query,
		"files":       formatted,
		"total_files": len(formatted),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleResearchCode handles the research_code tool invocation
func (s *Server) handleResearchCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	question, err := requireQuery(args, "question")
	if err != nil {
		return nil, err
	}
	req := engine.ResearchRequest{
		Question:     question,
		MaxHops:      getIntPtr(args, "max_hops"),
		PerHopLimit:  getIntPtr(args, "per_hop_limit"),
		VectorWeight: getFloatPtr(args, "vector_weight"),
	}
	if req.MaxHops != nil && *req.MaxHops < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_hops cannot be negative", map[string]interface{}{
			"param": "max_hops",
		})
	}
	if err := validateSearchParams(0, req.VectorWeight); err != nil {
		return nil, err
	}

	res, err := s.engine.Research(ctx, req)
	if err != nil {
		return nil, toolError("research failed", err)
	}

	chunks := make([]map[string]interface{}, 0, len(res.Chunks))
	for _, f := range res.Chunks {
		item := map[string]interface{}{
			"id":         f.Chunk.ID,
			"file":       f.Chunk.FilePath,
			"start_line": f.Chunk.StartLine,
			"end_line":   f.Chunk.EndLine,
			"kind":       string(f.Chunk.Kind),
			"score":      f.Score,
			"hop":        f.Hop,
			"content":    f.Chunk.Content,
		}
		if f.Chunk.Symbol != "" {
			item["symbol"] = f.Chunk.Symbol
		}
		if f.Via != "" {
			item["via"] = f.Via
		}
		chunks = append(chunks, item)
	}

	edges := make([]map[string]interface{}, 0, len(res.Relationships))
	for _, r := range res.Relationships {
		edges = append(edges, map[string]interface{}{
			"source":          r.SourceSymbol,
			"target":          r.TargetSymbol,
			"kind":            string(r.Kind),
			"source_chunk_id": r.SourceChunkID,
			"target_chunk_id": r.TargetChunkID,
			"resolved":        r.Resolved(),
		})
	}

	response := map[string]interface{}{
		"request_id":    res.RequestID,
		"question":      res.Question,
		"chunks":        chunks,
		"relationships": edges,
		"statistics": map[string]interface{}{
			"entities_discovered": res.Stats.EntitiesDiscovered,
			"hops_executed":       res.Stats.HopsExecuted,
			"chunks_visited":      res.Stats.ChunksVisited,
			"searches":            res.Stats.Searches,
			"duration_ms":         res.Stats.Duration.Milliseconds(),
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.engine.Status(ctx)
	if err != nil {
		return nil, toolError("failed to get status", err)
	}

	if !st.Initialized {
		response := map[string]interface{}{
			"indexed":   false,
			"root":      st.Root,
			"index_dir": st.IndexDir,
			"message":   "Project has not been indexed yet. Use index_codebase to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}

	response := map[string]interface{}{
		"indexed":   true,
		"indexing":  st.Indexing,
		"root":      st.Root,
		"index_dir": st.IndexDir,
		"statistics": map[string]interface{}{
			"files_count":        st.Stats.Files,
			"chunks_count":       st.Stats.Chunks,
			"valid_chunks":       st.Stats.ValidChunks,
			"stale_chunks":       st.Stats.StaleChunks,
			"vectors_count":      st.Stats.Vectors,
			"hashed_files":       st.HashedFiles,
			"generation":         st.Stats.Generation,
			"index_size_mb":      fmt.Sprintf("%.2f", float64(st.Stats.IndexBytes)/(1<<20)),
			"staleness_ratio":    st.Stats.StalenessRatio(),
			"needs_compaction":   st.Stats.NeedsCompaction(),
			"last_updated_at":    st.Stats.LastUpdated.Format("2006-01-02T15:04:05Z07:00"),
			"embedding_provider": st.Stats.Embedder,
		},
		"health": map[string]interface{}{
			"semantic_search_available": !st.Stats.Degraded,
		},
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleCompactIndex handles the compact_index tool invocation
func (s *Server) handleCompactIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.engine.Compact(ctx)
	if err != nil {
		return nil, toolError("compaction failed", err)
	}

	response := map[string]interface{}{
		"compacted":      true,
		"generation":     res.Generation,
		"chunks_kept":    res.Kept,
		"chunks_removed": res.Removed,
		"reembedded":     res.Reembedded,
		"duration_ms":    res.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toolError maps an engine error to a stable MCP error code
func toolError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrIndexNotInitialized):
		code = ErrorCodeNotIndexed
	case errors.Is(err, types.ErrIndexCorrupted):
		code = ErrorCodeIndexCorrupted
	case errors.Is(err, types.ErrIndexingInProgress):
		code = ErrorCodeIndexingInProgress
	case errors.Is(err, types.ErrInvalidQuery):
		code = ErrorCodeInvalidQuery
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrorCodeCanceled
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// arguments extracts the argument map of a tool call. Tools without
// required arguments accept a missing map.
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

func requireQuery(args map[string]interface{}, key string) (string, error) {
	q, ok := args[key].(string)
	if !ok || strings.TrimSpace(q) == "" {
		return "", newMCPError(ErrorCodeInvalidQuery, key+" parameter is required and cannot be empty", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return q, nil
}

func validateSearchParams(limit int, weight *float64) error {
	if limit < 0 || limit > 100 {
		return newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	if weight != nil && (*weight < 0 || *weight > 1) {
		return newMCPError(ErrorCodeInvalidParams, "vector_weight must be between 0 and 1", map[string]interface{}{
			"param": "vector_weight",
			"value": *weight,
		})
	}
	return nil
}

// validatePath checks if a path exists and is an accessible directory
func validatePath(path string) error {
	if path == "" {
		return ErrPathRequired
	}

	if !filepath.IsAbs(path) {
		return ErrPathNotAbsolute
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return ErrPathNotFound
	}
	if err != nil {
		return ErrPathNotReadable
	}

	if !info.IsDir() {
		return ErrNotDirectory
	}

	f, err := os.Open(path)
	if err != nil {
		return ErrPathNotReadable
	}
	_ = f.Close()
	return nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getIntPtr extracts an optional integer parameter; nil when absent
func getIntPtr(args map[string]interface{}, key string) *int {
	if _, ok := args[key]; !ok {
		return nil
	}
	v := getIntDefault(args, key, 0)
	return &v
}

// getFloatPtr extracts an optional number parameter; nil when absent
func getFloatPtr(args map[string]interface{}, key string) *float64 {
	switch val := args[key].(type) {
	case float64:
		return &val
	case int:
		f := float64(val)
		return &f
	}
	return nil
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getTiers extracts an optional list of tier names
func getTiers(args map[string]interface{}, key string) ([]types.Tier, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
			"param": key,
		})
	}
	tiers := make([]types.Tier, 0, len(list))
	for _, item := range list {
		name, _ := item.(string)
		tier, err := types.ParseTier(name)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid tier", map[string]interface{}{
				"param":  key,
				"reason": err.Error(),
			})
		}
		tiers = append(tiers, tier)
	}
	return tiers, nil
}

// Validation helpers

var (
	ErrPathRequired    = errors.New("path is required")
	ErrPathNotAbsolute = errors.New("path must be absolute")
	ErrPathNotFound    = errors.New("path does not exist")
	ErrPathNotReadable = errors.New("path is not readable")
	ErrNotDirectory    = errors.New("path is not a directory")
)
