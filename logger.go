package framegraph

import (
	"log/slog"

	"github.com/gogpu/framegraph/internal/logging"
)

// SetLogger configures the logger for framegraph and all its sub-packages.
// By default, framegraph produces no log output. Call SetLogger to enable
// logging.
//
// SetLogger is safe for concurrent use: it stores the new logger atomically.
// Pass nil to disable logging (restore default silent behavior).
//
// Log levels used by framegraph:
//   - [slog.LevelDebug]: per-resource diagnostics (allocations, barriers, staging growth)
//   - [slog.LevelInfo]: lifecycle events (graph baked, device opened, resize)
//   - [slog.LevelWarn]: non-fatal issues (resource release errors)
//
// Example:
//
//	framegraph.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	logging.Set(l)
}

// Logger returns the current logger used by framegraph.
//
// Logger is safe for concurrent use.
func Logger() *slog.Logger {
	return logging.Logger()
}

func slogger() *slog.Logger { return logging.Logger() }
