package observability

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// NewLogger builds the process logger: JSON on stdout, optionally fanned out
// to a JSON file, with trace ids stamped from the active span. The returned
// closer releases the file, if any.
func NewLogger(env, logFile string) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo

	if env == "dev" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	handlers := []slog.Handler{slog.NewJSONHandler(os.Stdout, opts)}
	var closer io.Closer = nopCloser{}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)

		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}

		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		closer = f
	}

	handler := NewTraceHandler(slogmulti.Fanout(handlers...))

	return slog.New(handler), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
