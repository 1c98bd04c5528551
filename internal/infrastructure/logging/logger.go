// Package logging provides structured logging utilities.
//
// Logs are formatted as bracketed console lines:
// [LEVEL] [SYSTEM] [HH:MM:SS] message key=value
package logging

import (
	"log/slog"
	"os"

	"github.com/stockpilot/marketplace-sync/internal/infrastructure/config"
)

// NewLogger creates a structured logger based on config
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}

	return slog.New(NewConsoleHandler(os.Stdout, level))
}

// NewLoggerWithSystem creates a logger with a system prefix (e.g., "sync",
// "api", "tokens"), useful for scoped loggers injected into subsystems.
func NewLoggerWithSystem(cfg config.LoggingConfig, system string) *slog.Logger {
	return NewLogger(cfg).With("system", system)
}
