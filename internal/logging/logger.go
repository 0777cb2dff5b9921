package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

const defaultPreviewRunes = 80

// Options mirrors config.LoggingConfig so this package stays dependency free
type Options struct {
	Level  string
	Format string
	Output string
}

// New builds a slog logger from the logging options and installs it as the default.
// The returned closer releases the output file when Output names one.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	w, closer, err := openOutput(opts.Output)
	if err != nil {
		return nil, nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	switch strings.ToLower(opts.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	logger := slog.New(handler).With("service", "ragbot")
	slog.SetDefault(logger)
	return logger, closer, nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Component returns a child logger tagged with the component name.
// A nil base falls back to slog.Default.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With("component", name)
}

// Preview truncates text for log output
func Preview(text string) string {
	return PreviewN(text, defaultPreviewRunes)
}

// PreviewN truncates text to at most n runes, appending an ellipsis when cut
func PreviewN(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "", "stdout":
		return os.Stdout, nopCloser{}, nil
	case "stderr":
		return os.Stderr, nopCloser{}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return f, f, nil
	}
}
