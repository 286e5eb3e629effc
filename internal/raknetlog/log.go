// Package raknetlog builds the structured, colorized loggers used throughout
// raknetd. Unlike the logger it replaces, nothing here is a package-level
// singleton: every component is handed its own *slog.Logger at construction
// time, scoped with the attributes that matter to it (session id, peer
// address, and so on).
package raknetlog

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Options controls the root logger's verbosity and output stream.
type Options struct {
	Level      slog.Level
	Output     io.Writer
	NoColor    bool
	TimeFormat string
}

// New builds the root logger for a process. Every subsystem logger should
// derive from this one via With, not construct its own.
func New(opts Options) *slog.Logger {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.TimeFormat == "" {
		opts.TimeFormat = time.Kitchen
	}
	handler := tint.NewHandler(opts.Output, &tint.Options{
		Level:      opts.Level,
		TimeFormat: opts.TimeFormat,
		NoColor:    opts.NoColor,
	})
	return slog.New(handler)
}

// ForSession scopes a logger to one peer session.
func ForSession(base *slog.Logger, sessionID uint64, peer string) *slog.Logger {
	return base.With(slog.Uint64("session_id", sessionID), slog.String("peer", peer))
}
