package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
)

// LogData is the payload of LogEntry events.
type LogData struct {
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// SlogHandler tees log records onto the bus as LogEntry events while
// passing them to an inner handler. Attribute keys are qualified by the
// open groups, joined with dots.
type SlogHandler struct {
	inner slog.Handler
	bus   *Bus
	attrs []slog.Attr
	group string
}

// NewSlogHandler returns a handler that writes to inner and publishes to bus.
func NewSlogHandler(inner slog.Handler, bus *Bus) *SlogHandler {
	return &SlogHandler{inner: inner, bus: bus}
}

func (h *SlogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *SlogHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := LogData{Level: r.Level.String(), Message: r.Message}
	if n := r.NumAttrs() + len(h.attrs); n > 0 {
		entry.Attrs = make(map[string]any, n)
		for _, a := range h.attrs {
			entry.Attrs[a.Key] = a.Value.Resolve().Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			entry.Attrs[h.key(a.Key)] = a.Value.Resolve().Any()
			return true
		})
	}
	data, _ := json.Marshal(entry)
	h.bus.Publish(Event{Type: LogEntry, Timestamp: r.Time, Data: data})

	return h.inner.Handle(ctx, r)
}

func (h *SlogHandler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		qualified[i] = slog.Attr{Key: h.key(a.Key), Value: a.Value}
	}
	return &SlogHandler{
		inner: h.inner.WithAttrs(attrs),
		bus:   h.bus,
		attrs: append(slices.Clip(h.attrs), qualified...),
		group: h.group,
	}
}

func (h *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &SlogHandler{
		inner: h.inner.WithGroup(name),
		bus:   h.bus,
		attrs: h.attrs,
		group: h.key(name),
	}
}
