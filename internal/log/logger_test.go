// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	logger := New(nil)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(nil, slog.LevelInfo))
	assert.False(t, logger.Enabled(nil, slog.LevelDebug))
}

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	logger.Info("hello", String(AgentIDKey, "performance"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "performance", entry[AgentIDKey])
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.input))
		})
	}
}

func TestFromEnvDebug(t *testing.T) {
	t.Setenv("STEWARD_DEBUG", "1")
	t.Setenv("STEWARD_LOG_LEVEL", "error")

	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
	assert.True(t, cfg.AddSource)
}

func TestFromEnvLevelPrecedence(t *testing.T) {
	t.Setenv("STEWARD_DEBUG", "")
	t.Setenv("STEWARD_LOG_LEVEL", "trace")
	t.Setenv("LOG_LEVEL", "error")

	cfg := FromEnv()
	assert.Equal(t, "trace", cfg.Level)
}

func TestFromEnvFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := FromEnv()
	assert.Equal(t, FormatJSON, cfg.Format)
}

func TestWithAgentContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	WithAgentContext(logger, "run-1", "sysadmin-search").Info("started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "run-1", entry[RunIDKey])
	assert.Equal(t, "sysadmin-search", entry[AgentIDKey])
}

func TestSanitizeAPIKey(t *testing.T) {
	assert.Equal(t, "...f3a9", SanitizeAPIKey("sk-ant-000000f3a9"))
	assert.Equal(t, "[REDACTED]", SanitizeAPIKey("ab"))
	assert.Equal(t, "[REDACTED]", SanitizeAPIKey(""))
}

func TestTraceGated(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})

	Trace(logger, "should not appear")
	assert.Zero(t, buf.Len())

	logger = New(&Config{Level: "trace", Format: FormatJSON, Output: &buf})
	Trace(logger, "should appear", String("k", "v"))
	assert.Contains(t, buf.String(), "should appear")
}

func TestToolCallMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	mw := NewToolCallMiddleware(logger)

	call := &ToolCall{Tool: "system_activity", Server: "http://localhost:3010/mcp", RunID: "run-7"}

	err := mw.Wrap(call, func() error { return nil })
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "tool call started")
	assert.Contains(t, buf.String(), "tool call completed")

	buf.Reset()
	wantErr := errors.New("connection refused")
	err = mw.Wrap(call, func() error { return wantErr })
	assert.Equal(t, wantErr, err)
	assert.Contains(t, buf.String(), "tool call failed")
	assert.Contains(t, buf.String(), "connection refused")
}
