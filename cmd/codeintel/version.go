package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/storage"
)

type versionOutput struct {
	Version   string `json:"version"`
	BuildTime string `json:"buildTime"`
	BuildMode string `json:"buildMode"`
	Driver    string `json:"sqliteDriver"`
	GoVersion string `json:"goVersion"`
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := versionOutput{
				Version:   version,
				BuildTime: buildTime,
				BuildMode: storage.BuildMode,
				Driver:    storage.DriverName,
				GoVersion: runtime.Version(),
			}
			if a.jsonOutput {
				return printJSON(cmd.OutOrStdout(), out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "codeintel %s\n", out.Version)
			fmt.Fprintf(w, "Build Time:    %s\n", out.BuildTime)
			fmt.Fprintf(w, "Build Mode:    %s\n", out.BuildMode)
			fmt.Fprintf(w, "SQLite Driver: %s\n", out.Driver)
			fmt.Fprintf(w, "Go:            %s\n", out.GoVersion)
			return nil
		},
	}
}
