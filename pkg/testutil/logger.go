package testutil

import (
	"log/slog"
	"os"

	"github.com/malbeclabs/spraydrop/pkg/logger"
)

// NewLogger builds the logger used across package tests. Tests stay quiet
// (errors only) unless SPRAYDROP_DEBUG asks for more.
func NewLogger() *slog.Logger {
	var level slog.Level
	switch os.Getenv("SPRAYDROP_DEBUG") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	default:
		level = slog.LevelError
	}
	return logger.NewWithWriter(os.Stderr, level)
}
