package observability

import (
	"io"
	"log/slog"
	"os"
)

// LogConfig configures a base *slog.Logger. Output defaults to os.Stderr
// when nil, so callers only set it in tests.
type LogConfig struct {
	Level  string
	Format string
	Output io.Writer
}

// NewLogger builds a *slog.Logger from a LogConfig. "text" yields
// human-readable output for local development; anything else (including
// the empty string) yields JSON, matching LoggingConfig's default.
func NewLogger(cfg LogConfig) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
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
