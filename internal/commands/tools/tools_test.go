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

package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/mcptools"
)

func TestBuildArguments(t *testing.T) {
	tests := []struct {
		name     string
		pairs    []string
		jsonArgs string
		want     map[string]interface{}
		wantErr  bool
	}{
		{name: "empty", want: nil},
		{
			name:  "pairs only",
			pairs: []string{"subsystem=QBATCH", "limit=10"},
			want:  map[string]interface{}{"subsystem": "QBATCH", "limit": "10"},
		},
		{
			name:     "json only",
			jsonArgs: `{"limit": 10, "detailed": true}`,
			want:     map[string]interface{}{"limit": float64(10), "detailed": true},
		},
		{
			name:     "pairs override json",
			pairs:    []string{"subsystem=QINTER"},
			jsonArgs: `{"subsystem": "QBATCH", "limit": 5}`,
			want:     map[string]interface{}{"subsystem": "QINTER", "limit": float64(5)},
		},
		{name: "bad pair", pairs: []string{"oops"}, wantErr: true},
		{name: "bad json", jsonArgs: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildArguments(tt.pairs, tt.jsonArgs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyQueryExtractsContent(t *testing.T) {
	response := &mcptools.ToolCallResponse{
		Content: []mcptools.ContentItem{
			{Type: "text", Text: `{"cpu": 87.5}`},
		},
	}

	value, err := applyQuery(response, ".content[0].text")
	require.NoError(t, err)
	assert.Equal(t, `{"cpu": 87.5}`, value)
}

func TestApplyQueryMultipleResults(t *testing.T) {
	response := &mcptools.ToolCallResponse{
		Content: []mcptools.ContentItem{
			{Type: "text", Text: "a"},
			{Type: "text", Text: "b"},
		},
	}

	value, err := applyQuery(response, ".content[].text")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, value)
}

func TestApplyQueryParseError(t *testing.T) {
	_, err := applyQuery(&mcptools.ToolCallResponse{}, ".[bad")
	require.Error(t, err)
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b c", oneLine("a\n  b\tc", 60))
	long := oneLine("this description keeps going well past the limit for table rows", 20)
	assert.Len(t, long, 20)
	assert.Contains(t, long, "...")
}
