package main

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

// LevelTrace is below Debug and carries per-event input logging.
const LevelTrace slog.Level = -8

// parseLogLevel converts a string to a slog level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "trace":
		return LevelTrace, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be error, warn, info, debug or trace)", level)
	}
}

// setupLogger builds the process logger. Console output is coloured when stdout
// is a terminal. A non-empty file adds a plain text copy of every record; the
// returned closer must be closed on exit.
func setupLogger(level slog.Level, file string) (*slog.Logger, io.Closer, error) {
	var console slog.Handler
	if term.IsTerminal(int(os.Stdout.Fd())) {
		console = &colorHandler{w: os.Stdout, level: level, mu: &sync.Mutex{}}
	} else {
		console = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}

	if file == "" {
		return slog.New(console), io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
	return slog.New(multiHandler{console, fileHandler}), f, nil
}

// multiHandler fans out records to every handler.
type multiHandler []slog.Handler

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range m {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	out := make(multiHandler, len(m))
	for i, h := range m {
		out[i] = h.WithGroup(name)
	}
	return out
}

// colorHandler writes one ANSI coloured line per record.
type colorHandler struct {
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
	mu    *sync.Mutex
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString("\033[90m")
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteString("\033[0m ")

	b.WriteString(levelColor(r.Level))
	fmt.Fprintf(&b, "%5s", levelName(r.Level))
	b.WriteString("\033[0m ")
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", h.qualify(a.Key), a.Value.Resolve())
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

// WithAttrs qualifies keys with the group open now; later groups do not apply.
func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	return &c
}

func (h *colorHandler) qualify(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group != "" {
		name = c.group + "." + name
	}
	c.group = name
	return &c
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m"
	case l >= slog.LevelWarn:
		return "\033[33m"
	case l >= slog.LevelInfo:
		return "\033[32m"
	case l >= slog.LevelDebug:
		return "\033[34m"
	default:
		return "\033[35m"
	}
}

func levelName(l slog.Level) string {
	if l <= LevelTrace {
		return "TRACE"
	}
	return l.String()
}

// loggingObserver logs every input event at trace level.
type loggingObserver struct {
	logger *slog.Logger
}

func (o loggingObserver) OnInputEvent(ev InputEvent) {
	ctx := context.Background()
	if !o.logger.Enabled(ctx, LevelTrace) {
		return
	}
	switch e := ev.(type) {
	case ButtonPressed:
		o.logger.Log(ctx, LevelTrace, "button pressed", "button", e.Name)
	case ButtonReleased:
		o.logger.Log(ctx, LevelTrace, "button released", "button", e.Name)
	case ButtonChanged:
		o.logger.Log(ctx, LevelTrace, "button changed", "button", e.Name, "pressed", e.Pressed)
	case AxisMoved:
		o.logger.Log(ctx, LevelTrace, "axis moved", "axis", e.Name, "value", e.Value)
	}
}
