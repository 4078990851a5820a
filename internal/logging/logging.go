package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Buffer captures log lines in memory so they can be served over HTTP.
type Buffer struct {
	lines []string
	max   int
	mu    sync.Mutex
}

// NewBuffer creates a buffer that keeps the last max lines.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 1000
	}
	return &Buffer{
		lines: make([]string, 0, max),
		max:   max,
	}
}

func (b *Buffer) Write(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, strings.TrimRight(string(p), "\n"))
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}

	return len(p), nil
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *Buffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	logs := make([]string, len(b.lines))
	copy(logs, b.lines)
	return logs
}

// New builds the process logger. Output goes to stdout and, when buf is
// non-nil, to the in-memory buffer as well.
func New(level, format string, buf *Buffer) *slog.Logger {
	var w io.Writer = os.Stdout
	if buf != nil {
		w = io.MultiWriter(os.Stdout, buf)
	}
	return NewWithWriter(level, format, w)
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseLevel maps a config level name to a slog level, defaulting to info.
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

// Discard returns a logger that drops everything. Used by tests and the CLI
// when quiet output is requested.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Err formats an error as a structured attribute.
func Err(err error) slog.Attr {
	return slog.String("error", err.Error())
}
