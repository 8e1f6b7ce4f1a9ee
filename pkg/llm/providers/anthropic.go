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

// Package providers contains the concrete LLM provider implementations and
// registers their factories with the llm registry.
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

const (
	anthropicBaseURL    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"

	// anthropicDefaultMaxTokens applies when the request does not set a limit.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicProvider implements llm.Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicProvider creates a provider with the given API key.
func NewAnthropicProvider(apiKey string) (*AnthropicProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &errors.ValidationError{
			Field:      "api_key",
			Message:    "Anthropic API key cannot be empty",
			Suggestion: "set ANTHROPIC_API_KEY or run: steward auth set anthropic",
		}
	}

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "steward-anthropic/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating HTTP client")
	}

	return &AnthropicProvider{
		apiKey:     apiKey,
		baseURL:    anthropicBaseURL,
		httpClient: client,
	}, nil
}

// NewAnthropicWithCredentials creates a provider from resolved credentials.
func NewAnthropicWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	apiKeyCreds, ok := creds.(llm.APIKeyCredentials)
	if !ok {
		return nil, &errors.ValidationError{
			Field:   "credentials",
			Message: fmt.Sprintf("anthropic requires API key credentials, got %T", creds),
		}
	}
	if err := apiKeyCreds.Validate(); err != nil {
		return nil, err
	}
	return NewAnthropicProvider(apiKeyCreds.APIKey)
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

func (p *AnthropicProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{
		Streaming: true,
		Tools:     true,
		Models: []llm.ModelInfo{
			{ID: "claude-sonnet-4-5", Name: "Claude Sonnet 4.5", Tier: llm.TierBalanced, ContextWindow: 200000, MaxOutputTokens: 64000, SupportsTools: true},
			{ID: "claude-opus-4-1", Name: "Claude Opus 4.1", Tier: llm.TierStrategic, ContextWindow: 200000, MaxOutputTokens: 32000, SupportsTools: true},
			{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", Tier: llm.TierFast, ContextWindow: 200000, MaxOutputTokens: 8192, SupportsTools: true},
		},
	}
}

// resolveModel maps tier names to concrete model IDs; anything else passes
// through unchanged.
func (p *AnthropicProvider) resolveModel(model string) string {
	if info, ok := llm.GetModelByTier(p.Capabilities().Models, llm.ModelTier(model)); ok {
		return info.ID
	}
	if model == "" {
		return "claude-sonnet-4-5"
	}
	return model
}

// Complete performs a non-streaming completion via the Messages API.
func (p *AnthropicProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	apiReq, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	body, requestID, err := p.doRequest(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider: "anthropic",
			Message:  fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	return p.parseResponse(&apiResp, requestID)
}

// Stream performs a streaming completion. Chunks are delivered on the
// returned channel until the stream ends or an error arrives.
func (p *AnthropicProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	apiReq, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	p.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "calling Anthropic API")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.parseError(resp)
	}

	ch := make(chan llm.StreamChunk)
	go p.processStream(ctx, resp, ch)
	return ch, nil
}

func (p *AnthropicProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// buildRequest converts the generic request into Anthropic's wire format.
// System messages are hoisted into the top-level system field; tool results
// become tool_result content blocks on user messages.
func (p *AnthropicProvider) buildRequest(req llm.CompletionRequest, stream bool) (*anthropicRequest, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	apiReq := &anthropicRequest{
		Model:         p.resolveModel(req.Model),
		MaxTokens:     maxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.StopSequences,
		Stream:        stream,
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case llm.RoleUser:
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{
				Role:    "user",
				Content: []interface{}{anthropicTextContent{Type: "text", Text: msg.Content}},
			})

		case llm.RoleAssistant:
			content := []interface{}{}
			if msg.Content != "" {
				content = append(content, anthropicTextContent{Type: "text", Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				var input map[string]interface{}
				if err := json.Unmarshal([]byte(call.Arguments), &input); err != nil {
					return nil, &errors.ValidationError{
						Field:   "tool_calls",
						Message: fmt.Sprintf("tool call %s has invalid arguments: %v", call.Name, err),
					}
				}
				content = append(content, anthropicToolUse{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  call.Name,
					Input: input,
				})
			}
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{Role: "assistant", Content: content})

		case llm.RoleTool:
			apiReq.Messages = append(apiReq.Messages, anthropicMessage{
				Role: "user",
				Content: []interface{}{anthropicToolResult{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		default:
			return nil, &errors.ValidationError{
				Field:   "messages",
				Message: fmt.Sprintf("unsupported message role: %s", msg.Role),
			}
		}
	}
	apiReq.System = strings.Join(systemParts, "\n\n")

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}

	return apiReq, nil
}

// doRequest posts the request and returns the raw response body and the
// request ID header.
func (p *AnthropicProvider) doRequest(ctx context.Context, apiReq *anthropicRequest) ([]byte, string, error) {
	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, "", errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, "", errors.Wrap(err, "creating request")
	}
	p.setHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, "", errors.Wrap(err, "calling Anthropic API")
	}
	defer resp.Body.Close()

	requestID := resp.Header.Get("request-id")

	if resp.StatusCode != http.StatusOK {
		return nil, requestID, p.parseError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestID, errors.Wrap(err, "reading response")
	}
	return body, requestID, nil
}

// parseError converts a non-200 response into a ProviderError. The body may
// already be consumed for streaming requests; an empty envelope still yields
// a usable error.
func (p *AnthropicProvider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope anthropicErrorResponse
	message := strings.TrimSpace(string(body))
	code := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		code = envelope.Error.Type
	}

	return &errors.ProviderError{
		Provider:   "anthropic",
		Code:       code,
		StatusCode: resp.StatusCode,
		Message:    message,
		RequestID:  resp.Header.Get("request-id"),
		Suggestion: anthropicSuggestion(resp.StatusCode),
	}
}

func anthropicSuggestion(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "check your Anthropic API key"
	case http.StatusTooManyRequests:
		return "rate limited; the request will be retried automatically"
	case http.StatusRequestEntityTooLarge:
		return "reduce the prompt or history size"
	default:
		if status >= 500 {
			return "Anthropic service error; the request will be retried automatically"
		}
		return ""
	}
}

// parseResponse walks the content blocks of a Messages API response.
func (p *AnthropicProvider) parseResponse(apiResp *anthropicResponse, requestID string) (*llm.CompletionResponse, error) {
	var text strings.Builder
	var toolCalls []llm.ToolCall

	for _, block := range apiResp.Content {
		blockType, _ := block["type"].(string)
		switch blockType {
		case "text":
			if s, ok := block["text"].(string); ok {
				text.WriteString(s)
			}
		case "tool_use":
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			input, err := json.Marshal(block["input"])
			if err != nil {
				return nil, &errors.ProviderError{
					Provider: "anthropic",
					Message:  fmt.Sprintf("failed to marshal tool input for %s: %v", name, err),
				}
			}
			toolCalls = append(toolCalls, llm.ToolCall{ID: id, Name: name, Arguments: string(input)})
		}
	}

	return &llm.CompletionResponse{
		Content:      text.String(),
		ToolCalls:    toolCalls,
		FinishReason: mapStopReason(apiResp.StopReason),
		Usage: llm.TokenUsage{
			InputTokens:         apiResp.Usage.InputTokens,
			OutputTokens:        apiResp.Usage.OutputTokens,
			TotalTokens:         apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
			CacheCreationTokens: apiResp.Usage.CacheCreationTokens,
			CacheReadTokens:     apiResp.Usage.CacheReadTokens,
		},
		Model:     apiResp.Model,
		RequestID: requestID,
		Created:   time.Now(),
	}, nil
}

func mapStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}

// processStream reads server-sent events from the Messages API and forwards
// them as chunks. The channel is closed when the stream ends.
func (p *AnthropicProvider) processStream(ctx context.Context, resp *http.Response, ch chan<- llm.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	requestID := resp.Header.Get("request-id")
	usage := llm.TokenUsage{}
	finish := llm.FinishReasonStop
	toolIndex := -1

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

		var event anthropicStreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			blockType, _ := event.ContentBlock["type"].(string)
			if blockType == "tool_use" {
				toolIndex++
				id, _ := event.ContentBlock["id"].(string)
				name, _ := event.ContentBlock["name"].(string)
				if !send(llm.StreamChunk{Delta: llm.StreamDelta{
					ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ID: id, Name: name},
				}}) {
					return
				}
			}

		case "content_block_delta":
			deltaType, _ := event.Delta["type"].(string)
			switch deltaType {
			case "text_delta":
				if s, ok := event.Delta["text"].(string); ok && s != "" {
					if !send(llm.StreamChunk{Delta: llm.StreamDelta{Content: s}}) {
						return
					}
				}
			case "input_json_delta":
				if s, ok := event.Delta["partial_json"].(string); ok && s != "" {
					if !send(llm.StreamChunk{Delta: llm.StreamDelta{
						ToolCallDelta: &llm.ToolCallDelta{Index: toolIndex, ArgumentsDelta: s},
					}}) {
						return
					}
				}
			}

		case "message_delta":
			if reason, ok := event.Delta["stop_reason"].(string); ok {
				finish = mapStopReason(reason)
			}
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}

		case "message_stop":
			usage.TotalTokens = usage.InputTokens + usage.OutputTokens
			send(llm.StreamChunk{FinishReason: finish, Usage: &usage})
			return

		case "error":
			message, _ := event.Delta["message"].(string)
			if message == "" {
				message = "stream error"
			}
			send(llm.StreamChunk{Error: &errors.ProviderError{
				Provider: "anthropic",
				Message:  message,
			}})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(llm.StreamChunk{Error: errors.Wrap(err, "reading stream")})
	}
}

// anthropicRequest is the Messages API request body.
type anthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []anthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string        `json:"role"`
	Content []interface{} `json:"content"`
}

type anthropicTextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicToolUse struct {
	Type  string                 `json:"type"`
	ID    string                 `json:"id"`
	Name  string                 `json:"name"`
	Input map[string]interface{} `json:"input"`
}

type anthropicToolResult struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string                   `json:"id"`
	Type       string                   `json:"type"`
	Role       string                   `json:"role"`
	Content    []map[string]interface{} `json:"content"`
	Model      string                   `json:"model"`
	StopReason string                   `json:"stop_reason"`
	Usage      anthropicUsage           `json:"usage"`
}

type anthropicUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type anthropicErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type anthropicStreamEvent struct {
	Type         string                 `json:"type"`
	Index        int                    `json:"index,omitempty"`
	ContentBlock map[string]interface{} `json:"content_block,omitempty"`
	Delta        map[string]interface{} `json:"delta,omitempty"`
	Message      *anthropicResponse     `json:"message,omitempty"`
	Usage        *anthropicUsage        `json:"usage,omitempty"`
}
