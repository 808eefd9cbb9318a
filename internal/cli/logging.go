package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/cartwatch/cartwatch/internal/constants"
)

// LevelFor returns the log level selected by the number of verbose flags.
//
// Without flags only warnings are logged, which includes field anomalies and rejected events.
// -v adds one line per request and -vv the payloads. -vvv also adds source locations, see NewLogger.
func LevelFor(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return constants.DefaultLogLevel
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// NewLogger returns a logger writing text, or JSON with jsonLogs, to w.
// Every record carries the service name and version.
func NewLogger(w io.Writer, verbosity int, jsonLogs bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     LevelFor(verbosity),
		AddSource: verbosity > 2,
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if jsonLogs {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With("service", constants.CmdName, "version", constants.Version)
}

// SetSlog replaces the default logger with one writing to stderr.
func SetSlog(verbosity int, jsonLogs bool) {
	slog.SetDefault(NewLogger(os.Stderr, verbosity, jsonLogs))
}
