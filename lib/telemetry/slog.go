package telemetry

import (
	"log/slog"
	"os"
)

// installs the default slog handler for the process. verbose enables
// debug-level output, which also turns on request/response dumping in
// instrumented resty clients.
func InitSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}
