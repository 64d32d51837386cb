package binding

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarning
	LogLevelInfo
	LogLevelDebug
)

// ComponentHandler is a slog.Handler that prefixes records with a component
// name and filters by the service's numeric log level.
type ComponentHandler struct {
	w         io.Writer
	level     LogLevel
	component string
	attrs     []slog.Attr
	mu        sync.Mutex
}

// NewComponentHandler creates a handler for one component.
func NewComponentHandler(w io.Writer, level LogLevel, component string) *ComponentHandler {
	return &ComponentHandler{
		w:         w,
		level:     level,
		component: component,
	}
}

// NewComponentLogger is a convenience wrapper returning a ready slog.Logger.
func NewComponentLogger(w io.Writer, level LogLevel, component string) *slog.Logger {
	return slog.New(NewComponentHandler(w, level, component))
}

func (h *ComponentHandler) Enabled(_ context.Context, level slog.Level) bool {
	switch level {
	case slog.LevelDebug:
		return h.level >= LogLevelDebug
	case slog.LevelInfo:
		return h.level >= LogLevelInfo
	case slog.LevelWarn:
		return h.level >= LogLevelWarning
	case slog.LevelError:
		return h.level >= LogLevelError
	default:
		return false
	}
}

func (h *ComponentHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var prefix string
	switch r.Level {
	case slog.LevelDebug:
		prefix = "DEBUG"
	case slog.LevelWarn:
		prefix = "WARN"
	case slog.LevelError:
		prefix = "ERROR"
	}

	buf := make([]byte, 0, 256)
	buf = fmt.Appendf(buf, "%s: ", h.component)
	if prefix != "" {
		buf = fmt.Appendf(buf, "%s: ", prefix)
	}
	buf = append(buf, r.Message...)

	for _, a := range h.attrs {
		buf = fmt.Appendf(buf, " %s=%s", a.Key, a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = fmt.Appendf(buf, " %s=%s", a.Key, a.Value.String())
		return true
	})

	buf = append(buf, '\n')
	_, err := h.w.Write(buf)
	return err
}

func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	copy(newAttrs[len(h.attrs):], attrs)

	return &ComponentHandler{
		w:         h.w,
		level:     h.level,
		component: h.component,
		attrs:     newAttrs,
	}
}

func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; component prefixing is enough for this service.
	return h
}
