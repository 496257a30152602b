package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithAnalysis returns a logger with analysis context fields attached.
// Use this for all logging tied to one screenshot submission.
func WithAnalysis(analysisID string, source string) *slog.Logger {
	return slog.With(
		"analysis_id", analysisID,
		"source", source,
	)
}

// WithAction returns a logger scoped to one follow-up action dispatch.
func WithAction(logger *slog.Logger, actionKind, actionKey string) *slog.Logger {
	return logger.With(
		"action_kind", actionKind,
		"action_key", actionKey,
	)
}
