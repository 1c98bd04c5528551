package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

// ConsoleHandler is a slog.Handler that writes bracketed single-line records:
// [LEVEL] [SYSTEM] [HH:MM:SS] message key=value key=value
// Level colors are enabled only when the writer is a terminal.
type ConsoleHandler struct {
	w      io.Writer
	level  slog.Level
	mu     *sync.Mutex
	system string
	colors bool
	attrs  []slog.Attr
}

// NewConsoleHandler creates a console handler writing to w at the given level.
func NewConsoleHandler(w io.Writer, level slog.Level) *ConsoleHandler {
	colors := false
	if f, ok := w.(*os.File); ok {
		colors = term.IsTerminal(int(f.Fd()))
	}

	return &ConsoleHandler{
		w:      w,
		level:  level,
		mu:     &sync.Mutex{},
		colors: colors,
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle formats and writes a log record
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	h.paint(&buf, levelColor(r.Level))
	buf.WriteString("[")
	buf.WriteString(levelLabel(r.Level))
	buf.WriteString("]")
	h.paint(&buf, ansiReset)

	if h.system != "" {
		buf.WriteString(" [")
		buf.WriteString(h.system)
		buf.WriteString("]")
	}

	h.paint(&buf, ansiGray)
	buf.WriteString(" [")
	buf.WriteString(r.Time.Format("15:04:05"))
	buf.WriteString("]")
	h.paint(&buf, ansiReset)

	buf.WriteString(" ")
	buf.WriteString(r.Message)

	for _, attr := range h.attrs {
		writeAttr(&buf, attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, a)
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write([]byte(buf.String()))
	return err
}

// WithAttrs returns a new handler with the given attributes added. A "system"
// attribute is lifted into the bracketed prefix instead of the k=v tail.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)

	for _, attr := range attrs {
		if attr.Key == "system" {
			clone.system = attr.Value.String()
			continue
		}
		clone.attrs = append(clone.attrs, attr)
	}

	return &clone
}

// WithGroup is accepted but groups are not rendered.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *ConsoleHandler) paint(buf *strings.Builder, code string) {
	if h.colors {
		buf.WriteString(code)
	}
}

func writeAttr(buf *strings.Builder, a slog.Attr) {
	if a.Key == "system" {
		return
	}
	buf.WriteString(" ")
	buf.WriteString(a.Key)
	buf.WriteString("=")
	buf.WriteString(fmt.Sprint(a.Value.Any()))
}

func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return ansiRed
	case level >= slog.LevelWarn:
		return ansiYellow
	case level >= slog.LevelInfo:
		return ansiCyan
	default:
		return ansiGray
	}
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
