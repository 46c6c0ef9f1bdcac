package logger

import (
	"log/slog"
	"os"
)

var Logger *slog.Logger

// InitLogger initializes structured JSON logging. Debug mode lowers the level
// and adds source locations.
func InitLogger(mode string) {
	level := slog.LevelInfo
	if mode == "debug" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: mode == "debug",
	}

	Logger = slog.New(slog.NewJSONHandler(os.Stdout, opts)).With("service", "financerag")
	Logger.Info("Structured logging initialized", "level", level.String())
}

// With returns a child logger carrying the given attributes. It falls back to
// the default slog logger before InitLogger runs.
func With(args ...any) *slog.Logger {
	if Logger != nil {
		return Logger.With(args...)
	}
	return slog.Default().With(args...)
}

// Helper functions for common log operations
func Info(msg string, args ...any) {
	if Logger != nil {
		Logger.Info(msg, args...)
	}
}

func Error(msg string, args ...any) {
	if Logger != nil {
		Logger.Error(msg, args...)
	}
}

func Debug(msg string, args ...any) {
	if Logger != nil {
		Logger.Debug(msg, args...)
	}
}

func Warn(msg string, args ...any) {
	if Logger != nil {
		Logger.Warn(msg, args...)
	}
}
