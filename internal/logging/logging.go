// Package logging installs the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"dataroute/internal/config"
)

// Level is shared by every handler Setup installs, so SetLevel takes effect
// without rebuilding the logger.
var level = new(slog.LevelVar)

// Setup installs the default logger writing to w: JSON lines for
// format "json" (or empty), colourised text for "text".
func Setup(w io.Writer, cfg config.LogCfg) *slog.Logger {
	level.Set(cfg.ParsedLevel())

	var h slog.Handler
	switch cfg.Format {
	case "text":
		h = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	default:
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// SetLevel changes the level of the installed logger.
func SetLevel(cfg config.LogCfg) { level.Set(cfg.ParsedLevel()) }
