package logging

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
)

// Source is the call site of a log record.
type Source struct {
	File string
	Line int
	Func string
}

// Observer receives formatted log records. Implementations must not call
// back into the node that logs.
type Observer interface {
	Log(level slog.Level, src Source, msg string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(level slog.Level, src Source, msg string)

func (f ObserverFunc) Log(level slog.Level, src Source, msg string) { f(level, src, msg) }

type observerHandler struct {
	obs    Observer
	level  slog.Leveler
	prefix string
	attrs  []slog.Attr
}

// NewHandler returns a slog.Handler that forwards records at or above
// level to obs. Attributes are appended to the message as key=value pairs.
// A nil observer yields a handler that drops everything.
func NewHandler(obs Observer, level slog.Leveler) slog.Handler {
	if obs == nil {
		return discardHandler{}
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &observerHandler{obs: obs, level: level}
}

func (h *observerHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *observerHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		appendAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	h.obs.Log(r.Level, sourceOf(r.PC), b.String())
	return nil
}

func (h *observerHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	nh.attrs = append(nh.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		nh.attrs = append(nh.attrs, a)
	}
	return &nh
}

func (h *observerHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	nh := *h
	nh.prefix = h.prefix + name + "."
	return &nh
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix+a.Key+".", ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

func sourceOf(pc uintptr) Source {
	if pc == 0 {
		return Source{}
	}
	frames := runtime.CallersFrames([]uintptr{pc})
	f, _ := frames.Next()
	return Source{File: f.File, Line: f.Line, Func: f.Function}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
