// Package logger provides a standardized logging approach for the ABD project
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger levels
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// New creates a new structured logger with the given options
func New(opts ...Option) *slog.Logger {
	config := defaultConfig()
	for _, opt := range opts {
		opt(config)
	}

	handlerOpts := &slog.HandlerOptions{
		Level: config.level,
	}

	var handler slog.Handler
	switch config.format {
	case "text":
		handler = slog.NewTextHandler(config.output, handlerOpts)
	default:
		handler = slog.NewJSONHandler(config.output, handlerOpts)
	}

	return slog.New(handler)
}

type config struct {
	level  slog.Level
	format string
	output io.Writer
}

func defaultConfig() *config {
	return &config{
		level:  LevelInfo,
		format: "json",
		output: os.Stdout,
	}
}

// Option configures the logger
type Option func(*config)

// WithLevel sets the minimum log level
func WithLevel(level slog.Level) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithFormat selects the handler, "json" (default) or "text"
func WithFormat(format string) Option {
	return func(c *config) {
		c.format = strings.ToLower(strings.TrimSpace(format))
	}
}

// WithOutput sets the output writer
func WithOutput(w io.Writer) Option {
	return func(c *config) {
		c.output = w
	}
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type ctxKey struct{}

// WithContext stores a logger in the context
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the default logger
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
