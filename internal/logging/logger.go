package logging

import (
	"io"
	"log/slog"
	"os"
)

// Options selects the level and format of the process logger.
type Options struct {
	Level   string
	Service string
	Env     string
	// Text switches to a human-readable handler for local runs.
	Text bool
}

// New creates a slog logger writing to stdout. Output is JSON unless opts.Text is set.
// An unknown level falls back to info. Every record carries the service and env attributes.
func New(opts Options) *slog.Logger {
	return newWithWriter(os.Stdout, opts)
}

func newWithWriter(w io.Writer, opts Options) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if opts.Text {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With(slog.String("service", opts.Service))
	}
	if opts.Env != "" {
		logger = logger.With(slog.String("env", opts.Env))
	}
	return logger
}

// Discard returns a logger that drops all output. Useful for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// For returns a child logger tagged with the component name.
func For(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With(slog.String("component", component))
}
