package personsearch

import (
	"context"
	"log/slog"
	"os"

	"github.com/chaste10ve/person-search/loss"
)

// Logger wraps slog.Logger with person-search specific context.
// This provides structured logging with consistent field names.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithMode adds a mode field to the logger.
func (l *Logger) WithMode(m Mode) *Logger {
	return &Logger{
		Logger: l.Logger.With("mode", m.String()),
	}
}

// WithDataset adds a dataset field to the logger.
func (l *Logger) WithDataset(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("dataset", name),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogTrainStep logs one training step with its loss breakdown.
func (l *Logger) LogTrainStep(ctx context.Context, step uint64, losses loss.Losses, err error) {
	if err != nil {
		l.ErrorContext(ctx, "train step failed",
			"step", step,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "train step completed",
		"step", step,
		"rpn_cls", losses.RPNClass,
		"rpn_box", losses.RPNBox,
		"cls", losses.Class,
		"box", losses.Box,
		"reid", losses.Identity,
		"total", losses.Sum(),
	)
}

// LogGallery logs a gallery inference call.
func (l *Logger) LogGallery(ctx context.Context, regions int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "gallery inference failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "gallery inference completed",
			"regions", regions,
		)
	}
}

// LogQuery logs a query inference call.
func (l *Logger) LogQuery(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query inference failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query inference completed")
	}
}

// LogCheckpoint logs a checkpoint publication.
func (l *Logger) LogCheckpoint(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "checkpoint failed",
			"id", id,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "checkpoint published",
			"id", id,
		)
	}
}
