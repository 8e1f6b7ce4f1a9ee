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

const defaultOllamaURL = "http://localhost:11434"

// OllamaProvider implements llm.Provider against a local Ollama server
// using the /api/chat endpoint. Models are discovered from /api/tags.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaProvider creates a provider for the given base URL. An empty URL
// uses the local default.
func NewOllamaProvider(baseURL string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := httpclient.DefaultConfig()
	cfg.UserAgent = "steward-ollama/1.0"
	client, err := httpclient.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating HTTP client")
	}

	return &OllamaProvider{baseURL: baseURL, httpClient: client}, nil
}

// NewOllamaWithCredentials creates a provider from resolved credentials.
// Ollama does not authenticate; only the base URL override is used.
func NewOllamaWithCredentials(creds llm.Credentials) (llm.Provider, error) {
	if ollamaCreds, ok := creds.(llm.OllamaCredentials); ok {
		return NewOllamaProvider(ollamaCreds.BaseURL)
	}
	return NewOllamaProvider("")
}

func (p *OllamaProvider) Name() string {
	return "ollama"
}

func (p *OllamaProvider) Capabilities() llm.Capabilities {
	// Installed models vary per host; DiscoverModels queries the server.
	return llm.Capabilities{
		Streaming: true,
		Tools:     true,
		Models:    []llm.ModelInfo{},
	}
}

// DiscoverModels lists the models installed on the Ollama server.
func (p *OllamaProvider) DiscoverModels(ctx context.Context) ([]llm.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "querying Ollama")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseError(resp)
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, errors.Wrap(err, "parsing response")
	}

	models := make([]llm.ModelInfo, 0, len(tags.Models))
	for _, model := range tags.Models {
		models = append(models, llm.ModelInfo{
			ID:            model.Name,
			Name:          model.Name,
			Tier:          llm.TierBalanced,
			SupportsTools: true,
		})
	}
	return models, nil
}

// Complete performs a non-streaming chat completion.
func (p *OllamaProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	apiReq, err := p.buildRequest(req, false)
	if err != nil {
		return nil, err
	}

	body, err := p.post(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	var apiResp ollamaChatResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &errors.ProviderError{
			Provider: "ollama",
			Message:  fmt.Sprintf("failed to parse response: %v", err),
		}
	}

	result := &llm.CompletionResponse{
		Content:      apiResp.Message.Content,
		FinishReason: mapOllamaDoneReason(apiResp.DoneReason),
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.PromptEvalCount,
			OutputTokens: apiResp.EvalCount,
			TotalTokens:  apiResp.PromptEvalCount + apiResp.EvalCount,
		},
		Model:   apiResp.Model,
		Created: time.Now(),
	}

	for i, call := range apiResp.Message.ToolCalls {
		args, err := json.Marshal(call.Function.Arguments)
		if err != nil {
			return nil, errors.Wrap(err, "marshaling tool arguments")
		}
		// Ollama does not assign call IDs; synthesize stable ones.
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      call.Function.Name,
			Arguments: string(args),
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = llm.FinishReasonToolCalls
	}
	return result, nil
}

// Stream performs a streaming chat completion. Ollama streams newline
// delimited JSON rather than SSE.
func (p *OllamaProvider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	apiReq, err := p.buildRequest(req, true)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "calling Ollama")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, p.parseError(resp)
	}

	ch := make(chan llm.StreamChunk)
	go p.processStream(ctx, resp, ch)
	return ch, nil
}

func (p *OllamaProvider) buildRequest(req llm.CompletionRequest, stream bool) (*ollamaChatRequest, error) {
	model := req.Model
	if model == "" {
		return nil, &errors.ValidationError{
			Field:      "model",
			Message:    "Ollama requires an explicit model",
			Suggestion: "use a reference like ollama:llama3.1:8b",
		}
	}

	apiReq := &ollamaChatRequest{Model: model, Stream: stream}
	if req.Temperature != nil || req.MaxTokens > 0 {
		apiReq.Options = &ollamaOptions{Temperature: req.Temperature}
		if req.MaxTokens > 0 {
			apiReq.Options.NumPredict = req.MaxTokens
		}
	}

	for _, msg := range req.Messages {
		out := ollamaMessage{Content: msg.Content}
		switch msg.Role {
		case llm.RoleSystem:
			out.Role = "system"
		case llm.RoleUser:
			out.Role = "user"
		case llm.RoleAssistant:
			out.Role = "assistant"
			for _, call := range msg.ToolCalls {
				var args map[string]interface{}
				if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
					return nil, &errors.ValidationError{
						Field:   "tool_calls",
						Message: fmt.Sprintf("tool call %s has invalid arguments: %v", call.Name, err),
					}
				}
				out.ToolCalls = append(out.ToolCalls, ollamaToolCall{
					Function: ollamaFunctionCall{Name: call.Name, Arguments: args},
				})
			}
		case llm.RoleTool:
			out.Role = "tool"
		default:
			return nil, &errors.ValidationError{
				Field:   "messages",
				Message: fmt.Sprintf("unsupported message role: %s", msg.Role),
			}
		}
		apiReq.Messages = append(apiReq.Messages, out)
	}

	for _, tool := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}

	return apiReq, nil
}

func (p *OllamaProvider) post(ctx context.Context, apiReq *ollamaChatRequest) ([]byte, error) {
	payload, err := json.Marshal(apiReq)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "calling Ollama")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.parseError(resp)
	}
	return io.ReadAll(resp.Body)
}

func (p *OllamaProvider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var envelope struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		message = envelope.Error
	}

	suggestion := ""
	if resp.StatusCode == http.StatusNotFound {
		suggestion = "pull the model first: ollama pull <model>"
	}

	return &errors.ProviderError{
		Provider:   "ollama",
		StatusCode: resp.StatusCode,
		Message:    message,
		Suggestion: suggestion,
	}
}

// processStream reads newline-delimited JSON chunks until done is true.
func (p *OllamaProvider) processStream(ctx context.Context, resp *http.Response, ch chan<- llm.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	send := func(chunk llm.StreamChunk) bool {
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
		var event ollamaChatResponse
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}

		if event.Message.Content != "" {
			if !send(llm.StreamChunk{Delta: llm.StreamDelta{Content: event.Message.Content}}) {
				return
			}
		}

		if event.Done {
			usage := &llm.TokenUsage{
				InputTokens:  event.PromptEvalCount,
				OutputTokens: event.EvalCount,
				TotalTokens:  event.PromptEvalCount + event.EvalCount,
			}
			send(llm.StreamChunk{FinishReason: mapOllamaDoneReason(event.DoneReason), Usage: usage})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		send(llm.StreamChunk{Error: errors.Wrap(err, "reading stream")})
	}
}

func mapOllamaDoneReason(reason string) llm.FinishReason {
	switch reason {
	case "stop", "":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	default:
		return llm.FinishReasonStop
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type ollamaChatResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	DoneReason      string        `json:"done_reason,omitempty"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string `json:"name"`
		ModifiedAt string `json:"modified_at"`
		Size       int64  `json:"size"`
	} `json:"models"`
}
