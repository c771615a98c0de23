// Package server constructs the process logger.
package server

import (
	"log/slog"
	"os"
)

// NewLogger returns a slog.Logger tuned for the environment: JSON at Info
// level in production, text at Debug level everywhere else.
func NewLogger(env string) *slog.Logger {
	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(handler)
}
