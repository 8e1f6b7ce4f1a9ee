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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/httpclient"
	"github.com/steward-project/steward/pkg/llm"
)

const openaiBaseURL = "https://api.openai.com/v1"

// OpenAIProvider implements llm.Provider against the Chat Completions API.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a provider with the given API key.
func NewOpenAIProvider(apiKey string) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &errors.ValidationError{
			Field:      "api_key",
			Message:    "OpenAI API key cannot be empty",
			Suggestion: "set OPENAI_API_KEY or run: steward auth set openai",
		}
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "steward-openai/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating HTTP client")
	}

	return &OpenAIProvider{
		apiKey:     apiKey,
		baseURL:    openaiBaseURL,
		httpClient: client,
	}, nil
}

// NewOpenAIWithCredentials creates a provider from resolved credentials.
func NewOpenAIWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	apiKeyCreds, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &errors.ValidationError{
			Field:   "credentials",
			Message: fmt.Sprintf("openai requires API key credentials, got %T", creds),
		}
	}
	if err := apiKeyCreds.Validate(); err != nil {
		return nil, err
	}
	return NewOpenAIProvider(apiKeyCreds.APIKey)
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: true,
		Tools:     true,
		Models: []llm.ModelInfo{
			{ID: "gpt-4o", Name: "GPT-4o", Tier: llm.TierBalanced, ContextWindow: 128000, MaxOutputTokens: 16384, SupportsTools: true},
			{ID: "o1", Name: "o1", Tier: llm.TierStrategic, ContextWindow: 200000, MaxOutputTokens: 100000, SupportsTools: true},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", Tier: llm.TierFast, ContextWindow: 128000, MaxOutputTokens: 16384, SupportsTools: true},
		},
	}
}

func (p *OpenAIProvider) resolveModel(model string) string {
	if info, ok := llm.GetModelByTier(p.Capabilities().Models, llm.ModelTier(model)); ok {
		return info.ID
	}
	if model == "" {
		return "gpt-4o"
	}
	return model
}

// Complete performs a non-streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	apiReq, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "calling OpenAI API")
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("x-request-id")

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response")
	}

	var apiResp openaiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider: "openai",
			Message:  fmt.Sprintf("failed to parse response: %v", err),
		}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{
			Provider: "openai",
			Message:  "response contained no choices",
		}
	}

	choice := apiResp.Choices[0]
	result := &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
		Model:     apiResp.Model,
		RequestID: requestID,
		Created:   time.Unix(apiResp.Created, 0),
	}
	for _, call := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return result, nil
}

// Stream performs a streaming chat completion.
func (p *OpenAIProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	apiReq, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "calling OpenAI API")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.parseError(resp)
	}

	ch := make(chan llm.StreamChunk)
	go p.processStream(ctx, resp, ch)
	return ch, nil
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

func (p *OpenAIProvider) buildRequest(req llm.CompletionRequest, stream bool) (*openaiRequest, error) {
	apiReq := &openaiRequest{
		Model:       p.resolveModel(req.Model),
		Temperature: req.Temperature,
		Stop:        req.StopSequences,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		apiReq.MaxCompletionTokens = req.MaxTokens
	}
	if stream {
		apiReq.StreamOptions = &openaiStreamOptions{IncludeUsage: true}
	}

	for _, msg := range req.Messages {
		out := openaiMessage{Content: msg.Content}
		switch msg.Role {
		case llm.RoleSystem:
			out.Role = "system"
		case llm.RoleUser:
			out.Role = "user"
		case llm.RoleAssistant:
			out.Role = "assistant"
			for _, call := range msg.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, openaiToolCall{
					ID:   call.ID,
					Type: "function",
					Function: openaiFunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
		case llm.RoleTool:
			out.Role = "tool"
			out.ToolCallID = msg.ToolCallID
		default:
			return nil, &errors.ValidationError{
				Field:   "messages",
				Message: fmt.Sprintf("unsupported message role: %s", msg.Role),
			}
		}
		apiReq.Messages = append(apiReq.Messages, out)
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, openaiTool{
			Type: "function",
			Function: openaiFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return apiReq, nil
}

func (p *OpenAIProvider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope openaiErrorResponse
	message := strings.TrimSpace(string(body))
	code := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		code = envelope.Error.Type
	}

	suggestion := ""
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		suggestion = "check your OpenAI API key"
	case http.StatusTooManyRequests:
		suggestion = "rate limited; the request will be retried automatically"
	}

	return &errors.ProviderError{
		Provider:   "openai",
		Code:       code,
		StatusCode: resp.StatusCode,
		Message:    message,
		RequestID:  resp.Header.Get("x-request-id"),
		Suggestion: suggestion,
	}
}

// processStream reads chat-completions SSE chunks until [DONE]. Tool call
// fragments carry their output index so the consumer can reassemble
// arguments across chunks.
func (p *OpenAIProvider) processStream(ctx context.Context, resp *http.Response, ch chan<- llm.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	requestID := resp.Header.Get("x-request-id")
	finish := llm.FinishReasonStop
	var usage *llm.TokenUsage

	send := func(chunk llm.StreamChunk) bool {
		chunk.RequestID = requestID
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			send(llm.StreamChunk{FinishReason: finish, Usage: usage})
			return
		}

		var event openaiStreamResponse
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			continue
		}

		if event.Usage != nil {
			usage = &llm.TokenUsage{
				InputTokens:  event.Usage.PromptTokens,
				OutputTokens: event.Usage.CompletionTokens,
				TotalTokens:  event.Usage.TotalTokens,
			}
		}
		if len(event.Choices) == 0 {
			continue
		}
		choice := event.Choices[0]
		if choice.FinishReason != "" {
			finish = mapOpenAIFinishReason(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			if !send(llm.StreamChunk{Delta: llm.StreamDelta{Content: choice.Delta.Content}}) {
				return
			}
		}
		for _, call := range choice.Delta.ToolCalls {
			if !send(llm.StreamChunk{Delta: llm.StreamDelta{
				ToolCallDelta: &llm.ToolCallDelta{
					Index:          call.Index,
					ID:             call.ID,
					Name:           call.Function.Name,
					ArgumentsDelta: call.Function.Arguments,
				},
			}}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(llm.StreamChunk{Error: errors.Wrap(err, "reading stream")})
	}
}

func mapOpenAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls":
		return llm.FinishReasonToolCalls
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// openaiRequest is the Chat Completions API request body.
type openaiRequest struct {
	Model               string               `json:"model"`
	Messages            []openaiMessage      `json:"messages"`
	MaxCompletionTokens int                  `json:"max_completion_tokens,omitempty"`
	Temperature         *float64             `json:"temperature,omitempty"`
	Tools               []openaiTool         `json:"tools,omitempty"`
	Stop                []string             `json:"stop,omitempty"`
	Stream              bool                 `json:"stream,omitempty"`
	StreamOptions       *openaiStreamOptions `json:"stream_options,omitempty"`
}

type openaiStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	Index    int                `json:"index,omitempty"`
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function openaiFunctionCall `json:"function"`
}

type openaiFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function openaiFunction `json:"function"`
}

type openaiFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type openaiResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Created int64          `json:"created"`
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

type openaiStreamResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []openaiStreamChoice `json:"choices"`
	Usage   *openaiUsage         `json:"usage,omitempty"`
}

type openaiStreamChoice struct {
	Index        int         `json:"index"`
	Delta        openaiDelta `json:"delta"`
	FinishReason string      `json:"finish_reason"`
}

type openaiDelta struct {
	Content   string           `json:"content,omitempty"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}
