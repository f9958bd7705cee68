package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
)

// ColorTextHandler renders records with slog.TextHandler and prefixes each line
// with an ANSI-colored level. The text handler writes into a shared buffer
// because it would otherwise quote the escape sequences.
type ColorTextHandler struct {
	inner slog.Handler
	buf   *bytes.Buffer
	out   io.Writer
	mu    *sync.Mutex
}

// NewColorTextHandler creates a new ColorTextHandler. When showTime is false the
// time attribute is omitted.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := slog.HandlerOptions{}
	if opts != nil {
		o = *opts
	}
	if !showTime {
		next := o.ReplaceAttr
		o.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			if next != nil {
				return next(groups, a)
			}
			return a
		}
	}
	buf := &bytes.Buffer{}
	return &ColorTextHandler{
		inner: slog.NewTextHandler(buf, &o),
		buf:   buf,
		out:   w,
		mu:    &sync.Mutex{},
	}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // Cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // Green
	case slog.LevelWarn:
		colorCode = "\033[33m" // Yellow
	case slog.LevelError:
		colorCode = "\033[31m" // Red
	default:
		colorCode = "\033[0m" // Reset/default
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf.Reset()
	if err := h.inner.Handle(ctx, r); err != nil {
		return err
	}
	line := make([]byte, 0, h.buf.Len()+32)
	line = append(line, colorCode...)
	line = append(line, r.Level.String()...)
	line = append(line, "\033[0m  "...)
	line = append(line, h.buf.Bytes()...)
	_, err := h.out.Write(line)
	return err
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithAttrs(attrs), buf: h.buf, out: h.out, mu: h.mu}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{inner: h.inner.WithGroup(name), buf: h.buf, out: h.out, mu: h.mu}
}
