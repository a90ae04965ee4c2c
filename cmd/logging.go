package cmd

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/marcus/ct/internal/syncconfig"
)

// setupLogging installs the default slog handler from config. Logs go to
// stderr so they never mix with command output.
func setupLogging() {
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, syncconfig.GetLogLevel(), syncconfig.GetLogFormat())))
}

func newLogHandler(w io.Writer, levelName, format string) slog.Handler {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
