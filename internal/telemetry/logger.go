// Package telemetry wires up the structured logger and metrics registry
// shared by every component of the broker.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// NewLogger builds a slog.Logger using the given format ("json" or "text")
// and level ("debug", "info", "warn", "error").
func NewLogger(format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
