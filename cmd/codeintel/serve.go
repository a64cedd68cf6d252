package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the project over MCP on stdio",
		Long: `Serve starts a Model Context Protocol server on stdin/stdout exposing
index_codebase, search_code, search_files, research_code, get_status and
compact_index. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			e, logger, err := a.openEngine(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := e.Close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			logger.Info("codeintel starting", "version", version, "root", e.Root())
			// ServeStdio handles SIGINT and SIGTERM itself
			return mcp.NewServer(e, logger).Serve(ctx)
		},
	}
}
