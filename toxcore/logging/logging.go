// Package logging bridges log/slog to the host's log callback.
//
// Every component logs through a *slog.Logger tagged with its subsystem:
//
//	log := logging.Subsystem(base, "dht")
//	log.Debug("node added", "peer", pk.Short())
//
// A Node builds its base logger with NewHandler, which turns each record
// into one Observer.Log call carrying the level, the source location of the
// call site and the formatted message.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace is below slog.LevelDebug and used for per-packet chatter.
const LevelTrace = slog.Level(-8)

// Subsystem returns base tagged with the subsystem name.
func Subsystem(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		return Discard()
	}
	return base.With("subsystem", name)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}

// ParseLevel accepts trace, debug, info, warn/warning and error.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", name)
	}
}

// LevelName returns the upper case name of l, including TRACE.
func LevelName(l slog.Level) string {
	if l <= LevelTrace {
		return "TRACE"
	}
	return l.String()
}

// NewTextLogger writes text records to w at or above level. TRACE is
// printed by name.
func NewTextLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(LevelName(l))
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
