package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.input), "ParseLevel(%q)", tt.input)
	}
}

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInitJSON(t *testing.T) {
	restoreDefault(t)

	var buf bytes.Buffer
	require.NoError(t, Init(slog.LevelInfo, FormatJSON, &buf))

	New("convert").Info("test message", "key", "value")

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), "output: %s", buf.String())
	assert.Equal(t, "test message", m["msg"])
	assert.Equal(t, "value", m["key"])
	assert.Equal(t, "convert", m["component"])
}

func TestInitText(t *testing.T) {
	restoreDefault(t)

	var buf bytes.Buffer
	require.NoError(t, Init(slog.LevelWarn, FormatText, &buf))

	slog.Info("hidden")
	slog.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "key=value")
}

func TestInitUnknownFormat(t *testing.T) {
	restoreDefault(t)
	assert.Error(t, Init(slog.LevelInfo, "xml"))
}
