package logger

import (
	"log/slog"
	"os"

	"manual-knowledge-pipeline/internal/config"
)

// New builds a JSON structured logger from configuration. The logger is
// passed explicitly into component constructors; there is no package-level
// logger state.
func New(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.GinMode == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.GinMode == "debug", // Only add source in debug mode
	}

	log := slog.New(slog.NewJSONHandler(os.Stdout, opts))
	log.Debug("structured logging initialized", "level", level.String())
	return log
}
