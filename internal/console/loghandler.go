package console

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// logLine is the websocket message carrying one formatted log record.
type logLine struct {
	Type string `json:"type"`
	Line string `json:"line"`
}

// hubWriter turns each write from a slog handler into one hub broadcast.
type hubWriter struct {
	hub *Hub
}

func (w hubWriter) Write(p []byte) (int, error) {
	w.hub.Broadcast(logLine{Type: "log", Line: strings.TrimRight(string(p), "\n")})
	return len(p), nil
}

// NewLogHandler returns a text handler whose output goes to console clients.
func NewLogHandler(hub *Hub, level slog.Leveler) slog.Handler {
	return slog.NewTextHandler(hubWriter{hub: hub}, &slog.HandlerOptions{Level: level})
}

// Tee sends every record to all handlers.
func Tee(handlers ...slog.Handler) slog.Handler {
	return teeHandler(handlers)
}

type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
