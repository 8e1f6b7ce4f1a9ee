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

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/errors"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		name         string
		ref          string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{"anthropic", "anthropic:claude-sonnet-4-5", "anthropic", "claude-sonnet-4-5", false},
		{"openai", "openai:gpt-4o", "openai", "gpt-4o", false},
		{"ollama tag keeps colon", "ollama:llama3.1:8b", "ollama", "llama3.1:8b", false},
		{"no colon", "claude-sonnet-4-5", "", "", true},
		{"empty provider", ":gpt-4o", "", "", true},
		{"empty model", "anthropic:", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := ParseModel(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				var valErr *errors.ValidationError
				assert.ErrorAs(t, err, &valErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantProvider, ref.Provider)
			assert.Equal(t, tt.wantModel, ref.Model)
		})
	}
}

func TestModelRefString(t *testing.T) {
	ref := ModelRef{Provider: "ollama", Model: "llama3.1:8b"}
	assert.Equal(t, "ollama:llama3.1:8b", ref.String())
}

func TestGetModelByTier(t *testing.T) {
	models := []ModelInfo{
		{ID: "small", Tier: TierFast},
		{ID: "medium", Tier: TierBalanced},
		{ID: "large", Tier: TierStrategic},
	}

	m, ok := GetModelByTier(models, TierBalanced)
	require.True(t, ok)
	assert.Equal(t, "medium", m.ID)

	_, ok = GetModelByTier(nil, TierFast)
	assert.False(t, ok)
}

func TestGetModelByID(t *testing.T) {
	models := []ModelInfo{{ID: "small"}, {ID: "medium"}}

	m, ok := GetModelByID(models, "small")
	require.True(t, ok)
	assert.Equal(t, "small", m.ID)

	_, ok = GetModelByID(models, "missing")
	assert.False(t, ok)
}

func TestTokenUsageAdd(t *testing.T) {
	usage := TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	usage.Add(TokenUsage{InputTokens: 3, OutputTokens: 2, TotalTokens: 5, CacheReadTokens: 1})

	assert.Equal(t, 13, usage.InputTokens)
	assert.Equal(t, 7, usage.OutputTokens)
	assert.Equal(t, 20, usage.TotalTokens)
	assert.Equal(t, 1, usage.CacheReadTokens)
}
