package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/kbchat/internal/config"
	"github.com/markdave123-py/kbchat/internal/models"
)

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSummary(&buf, &models.IngestSummary{Status: models.IngestPartial, ChunksUploaded: 4, FilesFailed: 1}))

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "partial", out["status"])
	assert.EqualValues(t, 4, out["chunks_uploaded"])
	assert.EqualValues(t, 1, out["summary"].(map[string]any)["files_failed"])
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &buf)

	l.Info("hidden")
	l.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])

	buf.Reset()
	l = newLogger(&config.Config{LogLevel: "nonsense"}, &buf)
	assert.True(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, l.Enabled(context.Background(), slog.LevelDebug))
}

func TestRootCommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ingest", "ask", "chat", "mcp"} {
		assert.True(t, names[want], want)
	}
}
