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
	"log/slog"
	"time"
)

// ToolCall describes an MCP tool invocation for logging purposes.
type ToolCall struct {
	// Tool is the tool name as advertised by the MCP server.
	Tool string

	// Server is the address of the MCP server handling the call.
	Server string

	// RunID correlates the call with an agent or workflow run.
	RunID string

	// Arguments holds the call arguments. Values are logged at trace
	// level only, since SQL statements and object names can be large.
	Arguments map[string]interface{}
}

// ToolCallResult describes the outcome of an MCP tool invocation.
type ToolCallResult struct {
	// Success indicates whether the call completed without error.
	Success bool

	// Error is the error message if the call failed.
	Error string

	// DurationMs is the call duration in milliseconds.
	DurationMs int64
}

// LogToolCall logs an outgoing tool invocation.
func LogToolCall(logger *slog.Logger, call *ToolCall) {
	attrs := []any{
		ToolKey, call.Tool,
		ServerKey, call.Server,
	}
	if call.RunID != "" {
		attrs = append(attrs, RunIDKey, call.RunID)
	}
	logger.Debug("tool call started", attrs...)

	if logger.Enabled(nil, LevelTrace) && len(call.Arguments) > 0 {
		logger.Log(nil, LevelTrace, "tool call arguments",
			ToolKey, call.Tool, "arguments", call.Arguments)
	}
}

// LogToolCallResult logs the outcome of a tool invocation.
func LogToolCallResult(logger *slog.Logger, call *ToolCall, result *ToolCallResult) {
	attrs := []any{
		ToolKey, call.Tool,
		ServerKey, call.Server,
		"success", result.Success,
		DurationKey, result.DurationMs,
	}
	if call.RunID != "" {
		attrs = append(attrs, RunIDKey, call.RunID)
	}
	if result.Error != "" {
		attrs = append(attrs, "error", result.Error)
	}

	level := slog.LevelDebug
	message := "tool call completed"
	if !result.Success {
		level = slog.LevelWarn
		message = "tool call failed"
	}

	logger.Log(nil, level, message, attrs...)
}

// ToolCallMiddleware wraps tool invocations with start/completion logging.
type ToolCallMiddleware struct {
	logger *slog.Logger
}

// NewToolCallMiddleware creates a new tool-call logging middleware.
func NewToolCallMiddleware(logger *slog.Logger) *ToolCallMiddleware {
	return &ToolCallMiddleware{logger: logger}
}

// Wrap executes fn, logging the call before and its outcome after.
func (m *ToolCallMiddleware) Wrap(call *ToolCall, fn func() error) error {
	start := time.Now()

	LogToolCall(m.logger, call)

	err := fn()

	result := &ToolCallResult{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}

	LogToolCallResult(m.logger, call, result)

	return err
}
