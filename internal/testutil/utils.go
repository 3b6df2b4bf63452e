package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"
)

// TestLogger returns a debug level logger for t. It writes to stdout rather
// than t.Log because pump goroutines may outlive the test.
func TestLogger(t testing.TB) *slog.Logger {
	return NewLogger(os.Stdout).With("test", t.Name())
}

func NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
