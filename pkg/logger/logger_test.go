package logger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileOutputWithContextFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "settlement.log")
	l, err := New(Config{Level: "debug", Format: "json", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, TraceIDKey, "trace-1")
	With(ctx, l).InfoContext(ctx, "settlement closed", "settlement_id", "LIQ-1")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "settlement closed", rec["msg"])
	assert.Equal(t, "req-1", rec["request_id"])
	assert.Equal(t, "trace-1", rec["trace_id"])
	assert.Equal(t, "LIQ-1", rec["settlement_id"])
	assert.NotContains(t, rec, "span_id")
}

func TestNew_LevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warn.log")
	l, err := New(Config{Level: "warn", Format: "text", Output: "file", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	l.Info("dropped")
	l.Warn("kept")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "dropped")
	assert.Contains(t, string(raw), "kept")
}

func TestWith_NoContextFields(t *testing.T) {
	l := Get()
	assert.Same(t, l, With(context.Background(), l))
}
