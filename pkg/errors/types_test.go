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

package errors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *ValidationError
		want string
	}{
		{
			name: "with field",
			err:  &ValidationError{Field: "--agent", Message: "unknown agent id"},
			want: "validation failed on --agent: unknown agent id",
		},
		{
			name: "without field",
			err:  &ValidationError{Message: "prompt is required"},
			want: "validation failed: prompt is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{Resource: "agent", ID: "sysadmin-browse"}
	assert.Equal(t, "agent not found: sysadmin-browse", err.Error())
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		Provider:   "anthropic",
		StatusCode: 429,
		Message:    "rate limit exceeded",
		RequestID:  "req_123",
	}
	assert.Equal(t, "provider anthropic error [HTTP 429]: rate limit exceeded (request-id: req_123)", err.Error())
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := New("connection reset")
	err := &ProviderError{Provider: "openai", Message: "request failed", Cause: cause}
	assert.True(t, Is(err, cause))
}

func TestToolError(t *testing.T) {
	err := &ToolError{Tool: "active_job_info", Server: "http://localhost:3010/mcp", Message: "SQL0204 object not found"}
	assert.Equal(t, "tool active_job_info failed on http://localhost:3010/mcp: SQL0204 object not found", err.Error())

	err = &ToolError{Tool: "system_status", Message: "empty result"}
	assert.Equal(t, "tool system_status failed: empty result", err.Error())
}

func TestToolErrorUnwrap(t *testing.T) {
	cause := New("transport closed")
	err := &ToolError{Tool: "system_activity", Message: "call failed", Cause: cause}

	var toolErr *ToolError
	require.True(t, As(err, &toolErr))
	assert.True(t, Is(err, cause))
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Key: "mcp.url", Reason: "must be a valid URL"}
	assert.Equal(t, "config error at mcp.url: must be a valid URL", err.Error())

	err = &ConfigError{Reason: "file is empty"}
	assert.Equal(t, "config error: file is empty", err.Error())
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{Operation: "workflow step", Duration: 30 * time.Second}
	assert.Equal(t, "workflow step operation timed out after 30s", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %s", "x"))
}

func TestWrapPreservesChain(t *testing.T) {
	inner := &NotFoundError{Resource: "workflow", ID: "system-health-audit"}
	wrapped := Wrapf(inner, "running %s", "audit")

	var notFound *NotFoundError
	require.True(t, As(wrapped, &notFound))
	assert.Equal(t, "system-health-audit", notFound.ID)
	assert.Contains(t, wrapped.Error(), "running audit")
}
