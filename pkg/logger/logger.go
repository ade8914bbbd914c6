// Package logger builds the structured loggers shared by every service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config holds the configuration for the logger.
type Config struct {
	// Output is the writer to send logs to (defaults to os.Stdout).
	Output io.Writer
	// Level is the minimum log level to output.
	Level slog.Level
	// Format is FormatJSON (default) or FormatText.
	Format string
	// Service, when set, is attached to every record as "service".
	Service string
	// AddSource adds source code position to log records.
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:  slog.LevelInfo,
		Output: os.Stdout,
		Format: FormatJSON,
	}
}

// New creates a logger with the provided configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, FormatText) {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	log := slog.New(handler)
	if cfg.Service != "" {
		log = log.With(slog.String("service", cfg.Service))
	}
	return log
}

// NewDefault creates a new JSON logger with default configuration.
func NewDefault() *slog.Logger {
	return New(DefaultConfig())
}

// NewWithLevel creates a new JSON logger with the specified log level.
func NewWithLevel(level slog.Level) *slog.Logger {
	cfg := DefaultConfig()
	cfg.Level = level
	return New(cfg)
}

// ParseLevel converts a string to a slog.Level, ignoring case and spaces.
// Supported values: "debug", "info", "warn", "error".
// Returns slog.LevelInfo if the level string is not recognized.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger tagged with the component name.
func Component(logger *slog.Logger, name string, attrs ...slog.Attr) *slog.Logger {
	args := make([]any, 0, len(attrs)+1)
	args = append(args, slog.String("component", name))
	for _, attr := range attrs {
		args = append(args, attr)
	}
	return logger.With(args...)
}
