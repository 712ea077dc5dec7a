// Package logging provides shared logging setup for chkforge binaries.
// log/slog is the logger throughout; this package only configures the
// default handler.
package logging

import (
	"log/slog"
	"os"
)

// Options configures the logger behavior.
type Options struct {
	// Development enables human-readable text output instead of JSON.
	Development bool

	// Level sets the minimum log level. Defaults to slog.LevelInfo.
	Level slog.Level
}

// DefaultOptions returns the default logging options.
func DefaultOptions() Options {
	return Options{
		Development: false,
		Level:       slog.LevelInfo,
	}
}

// Setup installs the default slog logger and returns it. Call early in
// main(), before anything logs.
func Setup(opts Options) *slog.Logger {
	var handler slog.Handler
	if opts.Development {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: opts.Level,
		})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: opts.Level,
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// SetupDevelopment sets up logging in development mode: text output, debug
// level.
func SetupDevelopment() *slog.Logger {
	return Setup(Options{Development: true, Level: slog.LevelDebug})
}
