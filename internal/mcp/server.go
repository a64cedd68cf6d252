package mcp

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/internal/logging"
)

const (
	// ServerName is the MCP server name
	ServerName = "codeintel"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server exposes one project's engine as MCP tools
type Server struct {
	mcp    *server.MCPServer
	engine *engine.Engine
	logger *slog.Logger
}

// NewServer creates a new MCP server instance for an open engine. The
// server does not own the engine; callers close it after Serve returns.
func NewServer(e *engine.Engine, logger *slog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		mcp:    mcpServer,
		engine: e,
		logger: logging.OrDiscard(logger).With("component", "mcp"),
	}
	s.registerTools()
	return s
}

// Serve starts the MCP server on stdio and blocks until the client
// disconnects. Stdout belongs to the protocol; logs go to stderr.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio", "root", s.engine.Root())
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexCodebaseTool(), s.handleIndexCodebase)
	s.mcp.AddTool(searchCodeTool(), s.handleSearchCode)
	s.mcp.AddTool(searchFilesTool(), s.handleSearchFiles)
	s.mcp.AddTool(researchCodeTool(), s.handleResearchCode)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(compactIndexTool(), s.handleCompactIndex)
}
