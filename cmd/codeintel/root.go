package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codeintel/internal/config"
	"github.com/dshills/codeintel/internal/engine"
	"github.com/dshills/codeintel/internal/logging"
)

// app holds the persistent flags shared by every command
type app struct {
	root       string
	configPath string
	jsonOutput bool
	verbosity  int
	quiet      bool

	// logOutput is stderr outside tests
	logOutput io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{logOutput: os.Stderr}

	cmd := &cobra.Command{
		Use:           "codeintel",
		Short:         "Local code intelligence: hybrid search and multi-hop research over a codebase",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.root, "root", ".", "project root")
	flags.StringVar(&a.configPath, "config", "", "config file (default <root>/"+config.DefaultFileName+")")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")
	flags.CountVarP(&a.verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "disable logging")

	cmd.AddCommand(
		newIndexCmd(a),
		newSearchCmd(a),
		newSearchFilesCmd(a),
		newResearchCmd(a),
		newStatusCmd(a),
		newCompactCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return cmd
}

// rootDir resolves the --root flag
func (a *app) rootDir() (string, error) {
	root, err := filepath.Abs(a.root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("project root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("project root %s is not a directory", root)
	}
	return root, nil
}

// logger builds the process logger. Flags win over the configured level;
// without flags the configured level applies.
func (a *app) logger(cfg *config.Config) *slog.Logger {
	level := logging.LevelFromString(cfg.Log.Level)
	if a.quiet || a.verbosity > 0 {
		level = logging.LevelFromVerbosity(a.verbosity, a.quiet)
	}
	return logging.New(a.logOutput, level, cfg.Log.Format)
}

// openEngine loads configuration and opens the engine for --root
func (a *app) openEngine(ctx context.Context) (*engine.Engine, *slog.Logger, error) {
	root, err := a.rootDir()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(root, a.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := a.logger(cfg)

	e, err := engine.Open(ctx, engine.Options{Root: root, Config: cfg, Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	return e, logger, nil
}

// withEngine runs fn with an open engine and a context canceled on
// SIGINT or SIGTERM
func (a *app) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *engine.Engine) error) (err error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, _, err := a.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, e)
}

// printJSON writes v as indented JSON to the command output
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
