package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/engine"
)

type compactOutput struct {
	Generation uint64 `json:"generation"`
	Kept       int    `json:"kept"`
	Removed    int    `json:"removed"`
	Reembedded int    `json:"reembedded"`
	DurationMs int64  `json:"durationMs"`
}

func newCompactCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Rebuild the index without stale chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
				res, err := e.Compact(ctx)
				if err != nil {
					return err
				}
				out := compactOutput{
					Generation: res.Generation,
					Kept:       res.Kept,
					Removed:    res.Removed,
					Reembedded: res.Reembedded,
					DurationMs: res.Duration.Milliseconds(),
				}
				if a.jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Compacted to generation %d: %d chunks kept, %d removed, %d re-embedded (%dms)\n",
					out.Generation, out.Kept, out.Removed, out.Reembedded, out.DurationMs)
				return nil
			})
		},
	}
}
