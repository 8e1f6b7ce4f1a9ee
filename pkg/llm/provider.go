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

// Package llm defines the provider abstraction for language model backends
// and the registry through which providers are configured and resolved.
package llm

import (
	"context"
	"time"
)

// Provider is the interface all language model backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// Capabilities describes the features this provider supports.
	Capabilities() Capabilities

	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Stream performs a streaming completion. Chunks arrive on the returned
	// channel; errors during streaming are delivered as a chunk with Error set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Streaming bool
	Tools     bool
	Models    []ModelInfo
}

// MessageRole identifies the author of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    MessageRole
	Content string

	// ToolCalls is populated on assistant messages that requested tools.
	ToolCalls []ToolCall

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string

	// Name is the tool name for tool-role messages.
	Name string
}

// ToolCall is a request by the model to invoke a tool.
type ToolCall struct {
	// ID is the provider-assigned call identifier.
	ID string

	// Name is the tool to invoke.
	Name string

	// Arguments is the JSON-encoded argument object.
	Arguments string
}

// Tool describes a callable function exposed to the model.
type Tool struct {
	Name        string
	Description string

	// InputSchema is a JSON Schema describing the tool parameters.
	InputSchema map[string]interface{}
}

// CompletionRequest carries everything a provider needs for one completion.
type CompletionRequest struct {
	// Model is the model identifier, or a ModelTier name the provider resolves.
	Model string

	Messages []Message
	Tools    []Tool

	MaxTokens     int
	Temperature   *float64
	StopSequences []string
}

// CompletionResponse is the full result of a non-streaming completion.
type CompletionResponse struct {
	// Content is the generated text.
	Content string

	// ToolCalls contains any tool invocations the model requested.
	ToolCalls []ToolCall

	// FinishReason explains why generation stopped.
	FinishReason FinishReason

	Usage TokenUsage

	// Model is the concrete model that served the request.
	Model string

	// RequestID is the provider's request identifier, for tracing.
	RequestID string

	Created time.Time
}

// StreamChunk is one piece of a streaming response.
type StreamChunk struct {
	Delta StreamDelta

	// FinishReason is set on the final chunk.
	FinishReason FinishReason

	// Usage is set on the final chunk.
	Usage *TokenUsage

	// Error terminates the stream when set.
	Error error

	RequestID string
}

// StreamDelta is the incremental update in a stream chunk.
type StreamDelta struct {
	Content string

	// ToolCallDelta carries partial tool call data; calls may build up
	// across several chunks.
	ToolCallDelta *ToolCallDelta
}

// ToolCallDelta is partial tool call information in a stream.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
)

// TokenUsage tracks token consumption for a request.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int

	// CacheCreationTokens are tokens written to the provider's prompt cache.
	CacheCreationTokens int

	// CacheReadTokens are tokens served from the provider's prompt cache.
	CacheReadTokens int
}

// Add accumulates usage from another request.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}
