// Package logging builds the process-wide structured logger.
//
// CashFlow402 threads a *slog.Logger explicitly through constructors
// rather than relying on slog's package-level default, mirroring the
// teacher's preference for explicit dependency injection over
// module-level singletons (see the "Global state with lifecycle"
// design note).
package logging

import (
	"context"
	"log/slog"
	"os"
)

// Options configures the logger New builds.
type Options struct {
	// Dev selects a human-readable text handler instead of JSON.
	Dev bool
	// Level is the minimum level emitted ("debug", "info", "warn", "error").
	Level string
}

// New builds a *slog.Logger per Options.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.Dev {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type ctxKey struct{}

// WithLogger returns a context carrying logger, retrievable via FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored by WithLogger, or slog.Default()
// if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
