package config

import (
	"log/slog"
	"os"
)

// NewLogger builds the process-wide structured logger from LoggingConfig.
// The logger is passed down by constructor injection to every component
// below; nothing here reassigns slog's package-level default.
func (c LoggingConfig) NewLogger() *slog.Logger {
	level := slog.LevelInfo
	switch c.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
