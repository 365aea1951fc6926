package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/runixer/janiproxy/internal/config"
)

// LoadEnv loads .env file from current working directory.
// Silently ignores if file not found, returns error for other failures.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// NewLogger returns a JSON logger at the configured level. Unknown levels
// fall back to info with a warning.
func NewLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, ok := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	if !ok {
		logger.Warn("unknown log level, defaulting to info", "level", cfg.Log.Level)
	}
	return logger
}
