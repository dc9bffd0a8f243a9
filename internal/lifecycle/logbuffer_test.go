package lifecycle

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingOverwrite(t *testing.T) {
	b := NewLogBuffer(3)
	for _, msg := range []string{"one", "two", "three", "four"} {
		b.Add(LogEntry{Plugin: "p", Message: msg})
	}

	assert.Equal(t, 3, b.Count())
	recent := b.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, "four", recent[0].Message, "newest first")
	assert.Equal(t, "two", recent[2].Message, "oldest surviving entry")
}

func TestByPlugin(t *testing.T) {
	b := NewLogBuffer(10)
	b.Add(LogEntry{Plugin: "a", Message: "a1"})
	b.Add(LogEntry{Plugin: "b", Message: "b1"})
	b.Add(LogEntry{Plugin: "a", Message: "a2"})

	got := b.ByPlugin("a")
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].Message)
}

func TestTeeHandlerCapturesPluginRecords(t *testing.T) {
	buf := NewLogBuffer(10)
	logger := slog.New(TeeHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Info("plugin said hi", "plugin", "emoji", "items", 3)
	logger.Warn("host only line")

	assert.Equal(t, 1, buf.Count(), "only plugin-attributed records captured")

	entries := buf.ByPlugin("emoji")
	require.Len(t, entries, 1)
	assert.Equal(t, "plugin said hi", entries[0].Message)
	assert.Equal(t, "info", entries[0].Level)
	assert.EqualValues(t, 3, entries[0].Fields["items"])
}

func TestTeeHandlerWithAttrs(t *testing.T) {
	buf := NewLogBuffer(10)
	base := slog.New(TeeHandler(slog.NewTextHandler(io.Discard, nil), buf))
	pluginLogger := base.With("plugin", "calc")

	pluginLogger.Error("boom")

	entries := buf.ByPlugin("calc")
	require.Len(t, entries, 1)
	assert.Equal(t, "error", entries[0].Level)
}
