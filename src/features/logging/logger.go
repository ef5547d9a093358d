package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/arborfm/karaopipe/src/features/config"
)

// SetupLogger builds the process-wide slog.Logger from the configured
// format/level, backed by charmbracelet/log's handler.
func SetupLogger(cfg *config.Manager) *slog.Logger {
	var formatter log.Formatter
	switch cfg.Get().Logger.Format {
	case "json":
		formatter = log.JSONFormatter
	case "text":
		formatter = log.TextFormatter
	default:
		formatter = log.LogfmtFormatter
	}

	level := log.InfoLevel
	switch cfg.Get().Logger.Level {
	case "debug":
		level = log.DebugLevel
	case "info":
		level = log.InfoLevel
	}

	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportCaller:    true,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "karaopipe",
		Formatter:       formatter,
		Level:           level,
	})

	logger := slog.New(handler)
	logger.Info("logger initialized", "time", time.Now().Format(time.RFC3339))
	return logger
}

// ForTrack returns a logger annotated with track_id, used by every stage
// and by the per-track log file so a single track's history greps clean.
func ForTrack(logger *slog.Logger, trackID string) *slog.Logger {
	return logger.With("track_id", trackID)
}
