package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudLoggingHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCloudLoggingHandlerTo(&buf, slog.LevelInfo)).With(slog.String("userID", "u1"))

	ctx := WithTraceID(context.Background(), "projects/p/traces/abc")
	logger.DebugContext(ctx, "dropped")
	logger.WarnContext(ctx, "contact removed", slog.String("contactID", "c1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARNING", entry["severity"])
	assert.Equal(t, "contact removed", entry["message"])
	assert.Equal(t, "u1", entry["userID"])
	assert.Equal(t, "c1", entry["contactID"])
	assert.Equal(t, "projects/p/traces/abc", entry[traceLogField])
}

func TestTraceFromHeader(t *testing.T) {
	tests := []struct {
		name      string
		projectID string
		header    string
		expected  string
	}{
		{name: "full header", projectID: "p", header: "105445aa7843bc8bf206b12000100000/1;o=1", expected: "projects/p/traces/105445aa7843bc8bf206b12000100000"},
		{name: "trace only", projectID: "p", header: "abc", expected: "projects/p/traces/abc"},
		{name: "missing header", projectID: "p", header: "", expected: ""},
		{name: "missing project", projectID: "", header: "abc/1", expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TraceFromHeader(tt.projectID, tt.header))
		})
	}
}

func TestLoggerFromContext(t *testing.T) {
	logger := slog.New(NewCloudLoggingHandlerTo(&bytes.Buffer{}, slog.LevelInfo))
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, LoggerFromContext(ctx))
	assert.NotNil(t, LoggerFromContext(context.Background()))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
