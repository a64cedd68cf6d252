package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/engine"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				st, err := e.Status(ctx)
				if err != nil {
					return err
				}
				out := newStatusOutput(st)
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printStatus(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
}

type statusOutput struct {
	Root            string    `json:"root"`
	IndexDir        string    `json:"indexDir"`
	Initialized     bool      `json:"initialized"`
	Indexing        bool      `json:"indexing"`
	Files           int       `json:"files"`
	Chunks          int       `json:"chunks"`
	ValidChunks     int       `json:"validChunks"`
	StaleChunks     int       `json:"staleChunks"`
	Vectors         int       `json:"vectors"`
	HashedFiles     int       `json:"hashedFiles"`
	IndexBytes      int64     `json:"indexBytes"`
	Generation      uint64    `json:"generation"`
	Embedder        string    `json:"embedder"`
	Degraded        bool      `json:"degraded"`
	StalenessRatio  float64   `json:"stalenessRatio"`
	NeedsCompaction bool      `json:"needsCompaction"`
	LastUpdated     time.Time `json:"lastUpdated,omitzero"`
}

func newStatusOutput(st *engine.Status) statusOutput {
	return statusOutput{
		Root:            st.Root,
		IndexDir:        st.IndexDir,
		Initialized:     st.Initialized,
		Indexing:        st.Indexing,
		Files:           st.Stats.Files,
		Chunks:          st.Stats.Chunks,
		ValidChunks:     st.Stats.ValidChunks,
		StaleChunks:     st.Stats.StaleChunks,
		Vectors:         st.Stats.Vectors,
		HashedFiles:     st.HashedFiles,
		IndexBytes:      st.Stats.IndexBytes,
		Generation:      st.Stats.Generation,
		Embedder:        st.Stats.Embedder,
		Degraded:        st.Stats.Degraded,
		StalenessRatio:  st.Stats.StalenessRatio(),
		NeedsCompaction: st.Stats.NeedsCompaction(),
		LastUpdated:     st.Stats.LastUpdated,
	}
}

func printStatus(w io.Writer, out statusOutput) {
	fmt.Fprintf(w, "Root:      %s\n", out.Root)
	fmt.Fprintf(w, "Index:     %s\n", out.IndexDir)
	if !out.Initialized {
		fmt.Fprintln(w, "Status:    not indexed (run `codeintel index`)")
		return
	}
	if out.Indexing {
		fmt.Fprintln(w, "Status:    indexing")
	} else {
		fmt.Fprintln(w, "Status:    ready")
	}
	fmt.Fprintf(w, "Files:     %d (%d hashed)\n", out.Files, out.HashedFiles)
	fmt.Fprintf(w, "Chunks:    %d valid, %d stale (%.0f%%)\n", out.ValidChunks, out.StaleChunks, out.StalenessRatio*100)
	fmt.Fprintf(w, "Vectors:   %d\n", out.Vectors)
	fmt.Fprintf(w, "Size:      %.2f MB\n", float64(out.IndexBytes)/(1<<20))
	fmt.Fprintf(w, "Embedder:  %s\n", out.Embedder)
	fmt.Fprintf(w, "Gen:       %d\n", out.Generation)
	if !out.LastUpdated.IsZero() {
		fmt.Fprintf(w, "Updated:   %s\n", out.LastUpdated.Format(time.RFC3339))
	}
	if out.Degraded {
		fmt.Fprintln(w, "Warning:   semantic search unavailable; results are keyword only")
	}
	if out.NeedsCompaction {
		fmt.Fprintln(w, "Hint:      run `codeintel compact` to drop stale chunks")
	}
}
