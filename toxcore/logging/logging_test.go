package logging

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	level slog.Level
	src   Source
	msg   string
}

type collector struct{ records []record }

func (c *collector) Log(level slog.Level, src Source, msg string) {
	c.records = append(c.records, record{level, src, msg})
}

func TestHandlerForwardsWithSource(t *testing.T) {
	c := &collector{}
	log := Subsystem(slog.New(NewHandler(c, slog.LevelDebug)), "dht")

	log.Info("node added", "count", 3)

	require.Len(t, c.records, 1)
	r := c.records[0]
	require.Equal(t, slog.LevelInfo, r.level)
	require.Equal(t, "node added subsystem=dht count=3", r.msg)
	require.Equal(t, "logging_test.go", filepath.Base(r.src.File))
	require.NotZero(t, r.src.Line)
	require.True(t, strings.HasSuffix(r.src.Func, "TestHandlerForwardsWithSource"), r.src.Func)
}

func TestHandlerFiltersLevel(t *testing.T) {
	c := &collector{}
	log := slog.New(NewHandler(c, slog.LevelInfo))

	log.Debug("hidden")
	log.Log(context.Background(), LevelTrace, "hidden too")
	log.Warn("shown")

	require.Len(t, c.records, 1)
	require.Equal(t, "shown", c.records[0].msg)
}

func TestHandlerGroups(t *testing.T) {
	c := &collector{}
	log := slog.New(NewHandler(c, slog.LevelInfo)).WithGroup("peer").With("pk", "ABCD")

	log.Info("seen", slog.Group("addr", "port", 33445))

	require.Len(t, c.records, 1)
	require.Equal(t, "seen peer.pk=ABCD peer.addr.port=33445", c.records[0].msg)
}

func TestNilObserverDiscards(t *testing.T) {
	log := slog.New(NewHandler(nil, slog.LevelDebug))
	require.False(t, log.Enabled(context.Background(), slog.LevelError))
	Discard().Error("nothing happens")
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"trace": LevelTrace,
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, want, got, name)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestTextLoggerNamesTrace(t *testing.T) {
	var buf bytes.Buffer
	log := NewTextLogger(&buf, LevelTrace)
	log.Log(context.Background(), LevelTrace, "packet")
	require.Contains(t, buf.String(), "level=TRACE")
	require.Contains(t, buf.String(), "msg=packet")
}
