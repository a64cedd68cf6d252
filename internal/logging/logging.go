// Package logging builds the process-wide slog logger.
//
// Logs always go to stderr or a file; stdout is reserved for the MCP stdio
// transport and for command output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// New returns a logger writing to w at the given level and format ("text" or "json")
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewDiscard returns a logger that drops everything
func NewDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(100)}))
}

// LevelFromString converts a level name to a slog.Level.
// Unrecognized names map to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromVerbosity maps CLI -v counts and --quiet to a level
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	if quiet {
		return slog.Level(100)
	}
	switch verbosity {
	case 0:
		return slog.LevelWarn
	case 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// OrDiscard returns l, or a discarding logger when l is nil
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return NewDiscard()
	}
	return l
}

// BadgerAdapter adapts a slog.Logger to badger's Logger interface
type BadgerAdapter struct {
	Logger *slog.Logger
}

func (a *BadgerAdapter) Errorf(msg string, items ...any) {
	a.Logger.Error(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *BadgerAdapter) Warningf(msg string, items ...any) {
	a.Logger.Warn(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *BadgerAdapter) Infof(msg string, items ...any) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}

func (a *BadgerAdapter) Debugf(msg string, items ...any) {
	a.Logger.Debug(strings.TrimSpace(fmt.Sprintf(msg, items...)))
}
