package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewHandler(&buf, "warn", "json"))
	logger.Info("dropped")
	logger.Warn("kept", "workflow_id", "wf-1")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "kept", record["msg"])
	assert.Equal(t, "wf-1", record["workflow_id"])

	buf.Reset()
	slog.New(NewHandler(&buf, "info", "")).Info("hello", "module", "engine")
	assert.Contains(t, buf.String(), "msg=hello module=engine")
}
