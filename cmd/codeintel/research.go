package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/internal/research"
)

func newResearchCmd(a *app) *cobra.Command {
	var (
		hops    int
		perHop  int
		weight  float64
		content bool
	)

	cmd := &cobra.Command{
		Use:   "research <question>",
		Short: "Search, then follow calls, types and imports of the results",
		Long: `Research runs an initial search for the question and expands the result
for a bounded number of hops: entities referenced by the chunks found so far
are searched in turn. Relationships are discovered at query time and never
stored.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.ResearchRequest{
				Question:     strings.Join(args, " "),
				VectorWeight: weightFlag(cmd, weight),
			}
			if cmd.Flags().Changed("hops") {
				req.MaxHops = &hops
			}
			if cmd.Flags().Changed("per-hop") {
				req.PerHopLimit = &perHop
			}

			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Research(ctx, req)
				if err != nil {
					return err
				}
				out := newResearchOutput(e.Root(), res)
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printResearch(cmd.OutOrStdout(), out, content)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&hops, "hops", 2, "expansion rounds after the initial search (default from config)")
	cmd.Flags().IntVar(&perHop, "per-hop", 8, "distinct entities followed per hop (default from config)")
	cmd.Flags().Float64Var(&weight, "weight", 0.5, "semantic share of the fused score, 0 to 1 (default from config)")
	cmd.Flags().BoolVar(&content, "content", false, "print chunk content")
	return cmd
}

type researchChunk struct {
	ID        string  `json:"id"`
	File      string  `json:"file"`
	StartLine int     `json:"startLine"`
	EndLine   int     `json:"endLine"`
	Symbol    string  `json:"symbol,omitempty"`
	Score     float64 `json:"score"`
	Hop       int     `json:"hop"`
	Via       string  `json:"via,omitempty"`
	Content   string  `json:"content"`
}

type researchEdge struct {
	Source        string `json:"source"`
	Target        string `json:"target"`
	Kind          string `json:"kind"`
	SourceChunkID string `json:"sourceChunkId"`
	TargetChunkID string `json:"targetChunkId,omitempty"`
}

type researchOutput struct {
	RequestID          string          `json:"requestId"`
	Question           string          `json:"question"`
	Chunks             []researchChunk `json:"chunks"`
	Relationships      []researchEdge  `json:"relationships"`
	EntitiesDiscovered int             `json:"entitiesDiscovered"`
	HopsExecuted       int             `json:"hopsExecuted"`
	Searches           int             `json:"searches"`
	DurationMs         int64           `json:"durationMs"`
}

func newResearchOutput(root string, res *research.Result) researchOutput {
	out := researchOutput{
		RequestID:          res.RequestID,
		Question:           res.Question,
		Chunks:             make([]researchChunk, 0, len(res.Chunks)),
		Relationships:      make([]researchEdge, 0, len(res.Relationships)),
		EntitiesDiscovered: res.Stats.EntitiesDiscovered,
		HopsExecuted:       res.Stats.HopsExecuted,
		Searches:           res.Stats.Searches,
		DurationMs:         res.Stats.Duration.Milliseconds(),
	}
	for _, f := range res.Chunks {
		out.Chunks = append(out.Chunks, researchChunk{
			ID:        f.Chunk.ID,
			File:      relPath(root, f.Chunk.FilePath),
			StartLine: f.Chunk.StartLine,
			EndLine:   f.Chunk.EndLine,
			Symbol:    f.Chunk.Symbol,
			Score:     f.Score,
			Hop:       f.Hop,
			Via:       f.Via,
			Content:   f.Chunk.Content,
		})
	}
	for _, r := range res.Relationships {
		out.Relationships = append(out.Relationships, researchEdge{
			Source:        r.SourceSymbol,
			Target:        r.TargetSymbol,
			Kind:          string(r.Kind),
			SourceChunkID: r.SourceChunkID,
			TargetChunkID: r.TargetChunkID,
		})
	}
	return out
}

func printResearch(w io.Writer, out researchOutput, content bool) {
	fmt.Fprintf(w, "%d chunks over %d hops (%d entities, %d searches, %dms)\n\n",
		len(out.Chunks), out.HopsExecuted, out.EntitiesDiscovered, out.Searches, out.DurationMs)

	for _, c := range out.Chunks {
		via := ""
		if c.Via != "" {
			via = " via " + c.Via
		}
		fmt.Fprintf(w, "[hop %d] %s:%d-%d  %s%s\n", c.Hop, c.File, c.StartLine, c.EndLine, c.Symbol, via)
		if content {
			for _, line := range strings.Split(strings.TrimRight(c.Content, "\n"), "\n") {
				fmt.Fprintf(w, "        %s\n", line)
			}
			fmt.Fprintln(w)
		}
	}

	if len(out.Relationships) > 0 {
		fmt.Fprintln(w, "\nRelationships:")
		for _, r := range out.Relationships {
			status := ""
			if r.TargetChunkID == "" {
				status = " (unresolved)"
			}
			fmt.Fprintf(w, "  %s -%s-> %s%s\n", r.Source, r.Kind, r.Target, status)
		}
	}
}
