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

package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/llm"
)

func newTestOllamaProvider(t *testing.T, handler http.HandlerFunc) *OllamaProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := NewOllamaProvider(srv.URL)
	require.NoError(t, err)
	return provider
}

func TestOllamaComplete(t *testing.T) {
	provider := newTestOllamaProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           "llama3.1:8b",
			Message:         ollamaMessage{Role: "assistant", Content: "Memory pools look fine."},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 15,
			EvalCount:       6,
		})
	})

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Model:    "llama3.1:8b",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "memory?"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Memory pools look fine.", resp.Content)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 21, resp.Usage.TotalTokens)
}

func TestOllamaCompleteToolCalls(t *testing.T) {
	provider := newTestOllamaProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model: "llama3.1:8b",
			Message: ollamaMessage{
				Role: "assistant",
				ToolCalls: []ollamaToolCall{{
					Function: ollamaFunctionCall{
						Name:      "system_status",
						Arguments: map[string]interface{}{"detail": "basic"},
					},
				}},
			},
			Done: true,
		})
	})

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Model:    "llama3.1:8b",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "status?"}},
	})
	require.NoError(t, err)

	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "system_status", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"detail":"basic"}`, resp.ToolCalls[0].Arguments)
	assert.NotEmpty(t, resp.ToolCalls[0].ID)
}

func TestOllamaCompleteRequiresModel(t *testing.T) {
	provider, err := NewOllamaProvider("")
	require.NoError(t, err)

	_, err = provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestOllamaStream(t *testing.T) {
	provider := newTestOllamaProvider(t, func(w http.ResponseWriter, r *http.Request) {
		enc := json.NewEncoder(w)
		enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "Pools "}})
		enc.Encode(ollamaChatResponse{Message: ollamaMessage{Content: "healthy"}})
		enc.Encode(ollamaChatResponse{Done: true, DoneReason: "stop", PromptEvalCount: 5, EvalCount: 2})
	})

	ch, err := provider.Stream(context.Background(), llm.CompletionRequest{
		Model:    "llama3.1:8b",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "memory?"}},
	})
	require.NoError(t, err)

	var text string
	var final *llm.StreamChunk
	for chunk := range ch {
		require.NoError(t, chunk.Error)
		text += chunk.Delta.Content
		if chunk.Usage != nil {
			c := chunk
			final = &c
		}
	}

	assert.Equal(t, "Pools healthy", text)
	require.NotNil(t, final)
	assert.Equal(t, 7, final.Usage.TotalTokens)
}

func TestOllamaDiscoverModels(t *testing.T) {
	provider := newTestOllamaProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":"qwen2.5:7b"}]}`))
	})

	models, err := provider.DiscoverModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.1:8b", models[0].ID)
}
