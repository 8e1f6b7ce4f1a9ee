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

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/llm"
)

func newTestOpenAIProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	provider, err := NewOpenAIProvider("sk-test-key")
	require.NoError(t, err)
	provider.baseURL = srv.URL
	return provider
}

func TestOpenAIComplete(t *testing.T) {
	var gotReq openaiRequest
	provider := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		json.NewEncoder(w).Encode(openaiResponse{
			Model:   "gpt-4o",
			Created: 1724900000,
			Choices: []openaiChoice{{
				Message:      openaiMessage{Role: "assistant", Content: "All subsystems active."},
				FinishReason: "stop",
			}},
			Usage: openaiUsage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
		})
	})

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Model: "gpt-4o",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are an IBM i administrator."},
			{Role: llm.RoleUser, Content: "List subsystems"},
		},
		MaxTokens: 512,
	})
	require.NoError(t, err)

	assert.Equal(t, "All subsystems active.", resp.Content)
	assert.Equal(t, llm.FinishReasonStop, resp.FinishReason)
	assert.Equal(t, 28, resp.Usage.TotalTokens)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, 512, gotReq.MaxCompletionTokens)
}

func TestOpenAICompleteToolCalls(t *testing.T) {
	var gotReq openaiRequest
	provider := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(openaiResponse{
			Model: "gpt-4o",
			Choices: []openaiChoice{{
				Message: openaiMessage{
					Role: "assistant",
					ToolCalls: []openaiToolCall{{
						ID:       "call_1",
						Type:     "function",
						Function: openaiFunctionCall{Name: "active_job_info", Arguments: `{"subsystem":"QBATCH"}`},
					}},
				},
				FinishReason: "tool_calls",
			}},
		})
	})

	resp, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "jobs in QBATCH?"}},
		Tools: []llm.Tool{{
			Name:        "active_job_info",
			Description: "List active jobs",
			InputSchema: map[string]interface{}{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, llm.FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "active_job_info", resp.ToolCalls[0].Name)

	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, "function", gotReq.Tools[0].Type)
	assert.Equal(t, "active_job_info", gotReq.Tools[0].Function.Name)
}

func TestOpenAICompleteAPIError(t *testing.T) {
	provider := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	})

	_, err := provider.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var provErr *errors.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, http.StatusUnauthorized, provErr.StatusCode)
	assert.Equal(t, "invalid api key", provErr.Message)
}

func TestOpenAIStream(t *testing.T) {
	lines := []string{
		`data: {"choices":[{"delta":{"content":"Sub"}}]}`,
		`data: {"choices":[{"delta":{"content":"systems OK"},"finish_reason":"stop"}]}`,
		`data: {"choices":[],"usage":{"prompt_tokens":7,"completion_tokens":3,"total_tokens":10}}`,
		`data: [DONE]`,
	}
	provider := newTestOpenAIProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			w.Write([]byte(l + "\n\n"))
		}
	})

	ch, err := provider.Stream(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "status?"}},
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

	assert.Equal(t, "Subsystems OK", text)
	require.NotNil(t, final)
	assert.Equal(t, llm.FinishReasonStop, final.FinishReason)
	assert.Equal(t, 10, final.Usage.TotalTokens)
}

func TestOpenAIResolveModel(t *testing.T) {
	provider, err := NewOpenAIProvider("sk-test")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", provider.resolveModel("fast"))
	assert.Equal(t, "gpt-4o", provider.resolveModel(""))
	assert.Equal(t, "gpt-custom", provider.resolveModel("gpt-custom"))
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(" ")
	assert.Error(t, err)
}
