package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/internal/indexer"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		mode  string
		reset bool
	)

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index the project or a directory inside it",
		Long: `Index discovers source files under path (default: the project root),
chunks them and adds them to the index. Unchanged files are skipped unless
--mode full is given. --reset deletes the index first, which is the only
way to recover from a damaged index.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := indexer.ParseMode(mode)
			if err != nil {
				return err
			}
			var path string
			if len(args) == 1 {
				path = args[0]
			}

			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				if reset {
					if err := e.Reset(); err != nil {
						return fmt.Errorf("reset index: %w", err)
					}
				}
				stats, err := e.Index(ctx, path, m)
				if err != nil {
					return err
				}
				out := newIndexOutput(stats)
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printIndex(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(indexer.ModeIncremental), "indexing mode: incremental, full or parallel")
	cmd.Flags().BoolVar(&reset, "reset", false, "delete the existing index before indexing")
	return cmd
}

// indexOutput is the printed form of an indexing run
type indexOutput struct {
	Mode           string   `json:"mode"`
	FilesScanned   int      `json:"filesScanned"`
	FilesIndexed   int      `json:"filesIndexed"`
	FilesUnchanged int      `json:"filesUnchanged"`
	FilesFailed    int      `json:"filesFailed"`
	FilesRemoved   int      `json:"filesRemoved"`
	ChunksCreated  int      `json:"chunksCreated"`
	ParseErrors    int      `json:"parseErrors"`
	DurationMs     int64    `json:"durationMs"`
	Skipped        []string `json:"skipped,omitempty"`
	Errors         []string `json:"errors,omitempty"`
}

func newIndexOutput(s *indexer.Statistics) indexOutput {
	return indexOutput{
		Mode:           string(s.Mode),
		FilesScanned:   s.FilesScanned,
		FilesIndexed:   s.FilesIndexed,
		FilesUnchanged: s.FilesUnchanged,
		FilesFailed:    s.FilesFailed,
		FilesRemoved:   s.FilesRemoved,
		ChunksCreated:  s.ChunksCreated,
		ParseErrors:    s.ParseErrors,
		DurationMs:     s.Duration.Milliseconds(),
		Skipped:        s.Skipped,
		Errors:         s.ErrorMessages,
	}
}

func printIndex(w io.Writer, out indexOutput) {
	fmt.Fprintf(w, "Indexed (%s) in %s\n", out.Mode, time.Duration(out.DurationMs)*time.Millisecond)
	fmt.Fprintf(w, "  Files:   %d scanned, %d indexed, %d unchanged, %d removed, %d failed\n",
		out.FilesScanned, out.FilesIndexed, out.FilesUnchanged, out.FilesRemoved, out.FilesFailed)
	fmt.Fprintf(w, "  Chunks:  %d created\n", out.ChunksCreated)
	if out.ParseErrors > 0 {
		fmt.Fprintf(w, "  Parse errors: %d\n", out.ParseErrors)
	}
	for _, path := range out.Skipped {
		fmt.Fprintf(w, "  skipped after repeated failures: %s\n", path)
	}
	for _, msg := range out.Errors {
		fmt.Fprintf(w, "  error: %s\n", msg)
	}
}
