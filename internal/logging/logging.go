package logging

import (
	"log/slog"
	"os"
)

// New initializes a new slog logger and sets it as the default.
// The format argument selects the handler: "json" for production,
// anything else falls back to human-readable text.
func New(format string) {
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}
