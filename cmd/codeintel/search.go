package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/pkg/types"
)

// weightFlag returns the --weight value when it was set explicitly
func weightFlag(cmd *cobra.Command, w float64) *float64 {
	if !cmd.Flags().Changed("weight") {
		return nil
	}
	return &w
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		limit   int
		weight  float64
		stale   bool
		tiers   []string
		content bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed code with hybrid keyword and semantic ranking",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.SearchRequest{
				Query:        strings.Join(args, " "),
				Limit:        limit,
				VectorWeight: weightFlag(cmd, weight),
				IncludeStale: stale,
			}
			for _, name := range tiers {
				tier, err := types.ParseTier(name)
				if err != nil {
					return err
				}
				req.Tiers = append(req.Tiers, tier)
			}

			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				results, err := e.Search(ctx, req)
				if err != nil {
					return err
				}
				out := newSearchOutput(e.Root(), req.Query, results)
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printSearch(cmd.OutOrStdout(), out, content)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum results (default from config)")
	cmd.Flags().Float64Var(&weight, "weight", 0.5, "semantic share of the fused score, 0 to 1 (default from config)")
	cmd.Flags().BoolVar(&stale, "stale", false, "include chunks waiting for compaction")
	cmd.Flags().StringSliceVar(&tiers, "tier", nil, "restrict to tiers: project, dependency, stdlib")
	cmd.Flags().BoolVar(&content, "content", false, "print chunk content")
	return cmd
}

func newSearchFilesCmd(a *app) *cobra.Command {
	var (
		limit  int
		weight float64
	)

	cmd := &cobra.Command{
		Use:   "search-files <query>",
		Short: "Rank files by their best matching chunk",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			w := weightFlag(cmd, weight)

			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				files, err := e.SearchFiles(ctx, query, limit, w)
				if err != nil {
					return err
				}
				out := fileSearchOutput{Query: query, Files: make([]fileHit, 0, len(files))}
				for i, f := range files {
					out.Files = append(out.Files, fileHit{
						Rank:   i + 1,
						File:   relPath(e.Root(), f.FilePath),
						Score:  f.Score,
						Chunks: f.Chunks,
					})
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				for _, f := range out.Files {
					fmt.Fprintf(cmd.OutOrStdout(), "%3d. %-60s %.4f (%d chunks)\n", f.Rank, f.File, f.Score, f.Chunks)
				}
				if len(out.Files) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matching files.")
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum files (default from config)")
	cmd.Flags().Float64Var(&weight, "weight", 0.5, "semantic share of the fused score, 0 to 1 (default from config)")
	return cmd
}

type searchHit struct {
	Rank      int     `json:"rank"`
	Score     float64 `json:"score"`
	Method    string  `json:"method"`
	ID        string  `json:"id"`
	File      string  `json:"file"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Symbol    string  `json:"symbol,omitempty"`
	Kind      string  `json:"kind"`
	Tier      string  `json:"tier"`
	Stale     bool    `json:"stale,omitempty"`
	Content   string  `json:"content"`
}

type searchOutput struct {
	Query   string      `json:"query"`
	Results []searchHit `json:"results"`
}

type fileHit struct {
	Rank   int     `json:"rank"`
	File   string  `json:"file"`
	Score  float64 `json:"score"`
	Chunks int     `json:"chunks"`
}

type fileSearchOutput struct {
	Query string    `json:"query"`
	Files []fileHit `json:"files"`
}

func newSearchOutput(root, query string, results []types.SearchResult) searchOutput {
	out := searchOutput{Query: query, Results: make([]searchHit, 0, len(results))}
	for _, r := range results {
		c := r.Chunk
		out.Results = append(out.Results, searchHit{
			Rank:      r.Rank,
			Score:     r.Score,
			Method:    string(r.Method),
			ID:        c.ID,
			File:      relPath(root, c.FilePath),
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Symbol:    c.Symbol,
			Kind:      string(c.Kind),
			Tier:      string(c.Tier),
			Stale:     r.Stale,
			Content:   c.Content,
		})
	}
	return out
}

func printSearch(w io.Writer, out searchOutput, content bool) {
	if len(out.Results) == 0 {
		fmt.Fprintln(w, "No results.")
		return
	}
	for _, r := range out.Results {
		name := r.Symbol
		if name == "" {
			name = "(" + r.Kind + ")"
		}
		marker := ""
		if r.Stale {
			marker = " [stale]"
		}
		fmt.Fprintf(w, "%3d. %s:%d-%d  %s  %.4f %s%s\n", r.Rank, r.File, r.StartLine, r.EndLine, name, r.Score, r.Method, marker)
		if content {
			for _, line := range strings.Split(strings.TrimRight(r.Content, "\n"), "\n") {
				fmt.Fprintf(w, "       %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}
}

// relPath shortens paths under root for display
func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}
