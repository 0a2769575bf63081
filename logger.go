package heapcore

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with heap-specific context.
// This provides structured logging with consistent field names.
//
// The heap logs only on slow paths (region growth and shrinkage, chunk
// splits, slab mapping, dumps), never per allocation.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithComponent tags log records with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// WithPool adds the pool element type to the logger.
func (l *Logger) WithPool(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("pool", name),
	}
}

// LogOpen logs heap creation.
func (l *Logger) LogOpen(ctx context.Context, mapped, usableStart uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "heap open failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "heap opened",
			"mapped", mapped,
			"usable_start", usableStart,
		)
	}
}

// LogAllocFailure logs an allocation that could not be satisfied.
func (l *Logger) LogAllocFailure(ctx context.Context, size int, err error) {
	l.WarnContext(ctx, "allocation failed",
		"size", size,
		"error", err,
	)
}

// LogDump logs a dump operation.
func (l *Logger) LogDump(ctx context.Context, chunks, pools int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "dump failed",
			"chunks", chunks,
			"pools", pools,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "dump written",
			"chunks", chunks,
			"pools", pools,
		)
	}
}

// LogClose logs heap shutdown.
func (l *Logger) LogClose(ctx context.Context, stats Stats, err error) {
	if err != nil {
		l.ErrorContext(ctx, "heap close failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "heap closed",
			"allocs", stats.Allocs,
			"frees", stats.Frees,
			"used", stats.UsedBytes,
		)
	}
}
