package kbinxml

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var diagnosticsOnce sync.Once

// SetupDiagnostics installs a text slog handler on stderr at the given
// level as the process default logger. Only the first call has an effect.
// Conversions never wait on it and work the same whether or not it ran.
func SetupDiagnostics(level slog.Level) {
	setupDiagnostics(os.Stderr, level)
}

func setupDiagnostics(w io.Writer, level slog.Level) bool {
	installed := false
	diagnosticsOnce.Do(func() {
		slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
		installed = true
	})
	return installed
}
