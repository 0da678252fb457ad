// Package logkit sets up the process-wide slog logger for the CLI and
// examples. Library code never configures logging itself; clients log
// through slog.Default so embedding applications stay in control.
package logkit

import (
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Format selects the handler wiring.
type Format string

const (
	// FormatAuto picks text for terminals and JSON otherwise.
	FormatAuto Format = "auto"
	// FormatText forces the tinted terminal handler.
	FormatText Format = "text"
	// FormatJSON forces machine-readable output.
	FormatJSON Format = "json"
)

// Initialize sets the global slog logger and returns it.
func Initialize(level slog.Level, format Format) *slog.Logger {
	var handler slog.Handler

	switch {
	case format == FormatJSON, format == FormatAuto && !isTerminal(os.Stderr):
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	default:
		handler = tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
			NoColor:    os.Getenv("NO_COLOR") != "",
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ParseLevel converts a level name into a slog.Level, defaulting to INFO.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && (info.Mode()&os.ModeCharDevice) != 0
}
