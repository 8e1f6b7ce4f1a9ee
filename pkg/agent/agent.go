// Package agent runs LLM-backed agents that accomplish tasks by calling
// tools. A run loops: send the conversation to the model, execute any tool
// calls it requests, feed the results back, and repeat until the model
// answers in plain text or the iteration cap is hit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/steward-project/steward/internal/log"
	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/llm"
	"github.com/steward-project/steward/pkg/tools"
)

// HistoryStore persists runs and serves back recent ones for context replay.
type HistoryStore interface {
	RecentRuns(ctx context.Context, agentID, sessionID string, runs, sessions int) ([]RunRecord, error)
	AppendRun(ctx context.Context, record RunRecord) error
}

// RunRecord is one persisted agent exchange.
type RunRecord struct {
	ID        string
	AgentID   string
	SessionID string
	Prompt    string
	Response  string
	Usage     llm.TokenUsage
	CreatedAt time.Time
}

// Agent executes prompts against a model with a set of tools.
type Agent struct {
	config   Config
	provider llm.Provider
	registry *tools.Registry
	history  HistoryStore
	context  *ContextManager
	logger   *slog.Logger
}

// RunOptions adjust a single run.
type RunOptions struct {
	// SessionID groups runs for history replay. Empty disables persistence
	// for this run.
	SessionID string

	// Stream receives text deltas as they arrive. Nil disables streaming.
	Stream func(delta string)
}

// Result is the outcome of one agent run.
type Result struct {
	// Response is the agent's final text answer.
	Response string

	// ToolExecutions records every tool call made during the run.
	ToolExecutions []ToolExecution

	// Iterations is the number of model round-trips.
	Iterations int

	// Usage is the aggregate token consumption.
	Usage llm.TokenUsage

	// Model is the model that served the final response.
	Model string

	Duration time.Duration
}

// ToolExecution records a single tool call.
type ToolExecution struct {
	Tool     string
	Inputs   map[string]interface{}
	Outputs  map[string]interface{}
	Success  bool
	Error    string
	Duration time.Duration
}

// ID returns the agent identifier.
func (a *Agent) ID() string {
	return a.config.ID
}

// Config returns the agent configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Tools returns the names of the tools available to this agent.
func (a *Agent) Tools() []string {
	return a.registry.Names()
}

// Run executes the agent loop for one prompt.
func (a *Agent) Run(ctx context.Context, prompt string, opts RunOptions) (*Result, error) {
	start := time.Now()
	logger := a.logger.With(log.String(log.AgentIDKey, a.config.ID))

	messages, err := a.buildMessages(ctx, prompt, opts.SessionID)
	if err != nil {
		return nil, err
	}
	toolDefs, err := a.toolDefinitions()
	if err != nil {
		return nil, err
	}

	result := &Result{}
	for iteration := 1; iteration <= a.config.MaxIterations; iteration++ {
		result.Iterations = iteration

		resp, err := a.complete(ctx, messages, toolDefs, opts.Stream)
		if err != nil {
			return nil, errors.Wrapf(err, "agent %s iteration %d", a.config.ID, iteration)
		}
		result.Usage.Add(resp.Usage)
		result.Model = resp.Model

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			result.Response = resp.Content
			result.Duration = time.Since(start)
			a.persist(ctx, prompt, result, opts.SessionID, logger)
			logger.Info("agent run completed",
				log.Int("iterations", result.Iterations),
				log.Int("tool_calls", len(result.ToolExecutions)),
				log.Int("total_tokens", result.Usage.TotalTokens),
			)
			return result, nil
		}

		for _, call := range resp.ToolCalls {
			execution := a.executeTool(ctx, call, logger)
			result.ToolExecutions = append(result.ToolExecutions, execution)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    formatToolResult(execution),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}

		if a.context.ShouldPrune(messages) {
			messages = a.context.Prune(messages)
		}
	}

	result.Duration = time.Since(start)
	return result, &errors.TimeoutError{
		Operation: fmt.Sprintf("agent %s", a.config.ID),
		Duration:  result.Duration,
		Cause:     fmt.Errorf("no final answer after %d iterations", a.config.MaxIterations),
	}
}

// complete calls the provider, streaming when a handler is set.
func (a *Agent) complete(ctx context.Context, messages []llm.Message, toolDefs []llm.Tool, stream func(string)) (*llm.CompletionResponse, error) {
	req := llm.CompletionRequest{
		Model:    a.modelID(),
		Messages: messages,
		Tools:    toolDefs,
	}
	if stream == nil {
		return a.provider.Complete(ctx, req)
	}

	ch, err := a.provider.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &llm.CompletionResponse{FinishReason: llm.FinishReasonStop}
	pending := map[int]*llm.ToolCall{}
	var order []int
	for chunk := range ch {
		if chunk.Error != nil {
			return nil, chunk.Error
		}
		if chunk.Delta.Content != "" {
			resp.Content += chunk.Delta.Content
			stream(chunk.Delta.Content)
		}
		if delta := chunk.Delta.ToolCallDelta; delta != nil {
			call, ok := pending[delta.Index]
			if !ok {
				call = &llm.ToolCall{}
				pending[delta.Index] = call
				order = append(order, delta.Index)
			}
			if delta.ID != "" {
				call.ID = delta.ID
			}
			if delta.Name != "" {
				call.Name = delta.Name
			}
			call.Arguments += delta.ArgumentsDelta
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		resp.RequestID = chunk.RequestID
	}
	for _, idx := range order {
		resp.ToolCalls = append(resp.ToolCalls, *pending[idx])
	}
	return resp, nil
}

// modelID strips the provider prefix from the configured model reference.
func (a *Agent) modelID() string {
	if a.config.Model == "" {
		return ""
	}
	ref, err := llm.ParseModel(a.config.Model)
	if err != nil {
		return a.config.Model
	}
	return ref.Model
}

// buildMessages assembles the system prompt, replayed history, and the
// current user prompt.
func (a *Agent) buildMessages(ctx context.Context, prompt, sessionID string) ([]llm.Message, error) {
	messages := []llm.Message{{Role: llm.RoleSystem, Content: a.config.Instructions}}

	if a.history != nil && a.config.History.Enabled {
		records, err := a.history.RecentRuns(ctx, a.config.ID, sessionID, a.config.History.Runs, a.config.History.Sessions)
		if err != nil {
			// History is a best-effort enrichment; a broken store must not
			// block the run.
			a.logger.Warn("history lookup failed", log.Error(err))
		}
		for _, record := range records {
			messages = append(messages,
				llm.Message{Role: llm.RoleUser, Content: record.Prompt},
				llm.Message{Role: llm.RoleAssistant, Content: record.Response},
			)
		}
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	return messages, nil
}

// toolDefinitions converts registered tools into the provider wire shape.
func (a *Agent) toolDefinitions() ([]llm.Tool, error) {
	var defs []llm.Tool
	for _, tool := range a.registry.List() {
		schema := map[string]interface{}{"type": "object"}
		if raw := tool.InputSchema(); len(raw) > 0 {
			if err := json.Unmarshal(raw, &schema); err != nil {
				return nil, errors.Wrapf(err, "tool %s has invalid input schema", tool.Name())
			}
		}
		defs = append(defs, llm.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: schema,
		})
	}
	return defs, nil
}

func (a *Agent) executeTool(ctx context.Context, call llm.ToolCall, logger *slog.Logger) ToolExecution {
	start := time.Now()
	execution := ToolExecution{Tool: call.Name}

	var inputs map[string]interface{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &inputs); err != nil {
			execution.Error = fmt.Sprintf("invalid tool arguments: %v", err)
			execution.Duration = time.Since(start)
			return execution
		}
	}
	execution.Inputs = inputs

	tool, err := a.registry.Get(call.Name)
	if err != nil {
		execution.Error = err.Error()
		execution.Duration = time.Since(start)
		return execution
	}

	logger.Debug("executing tool", log.String(log.ToolKey, call.Name))
	outputs, err := tool.Execute(ctx, inputs)
	execution.Duration = time.Since(start)
	if err != nil {
		execution.Error = err.Error()
		logger.Warn("tool execution failed",
			log.String(log.ToolKey, call.Name),
			log.Error(err),
		)
		return execution
	}

	execution.Success = true
	execution.Outputs = outputs
	return execution
}

// persist appends the finished run to history when a session is active.
func (a *Agent) persist(ctx context.Context, prompt string, result *Result, sessionID string, logger *slog.Logger) {
	if a.history == nil || sessionID == "" {
		return
	}
	record := RunRecord{
		AgentID:   a.config.ID,
		SessionID: sessionID,
		Prompt:    prompt,
		Response:  result.Response,
		Usage:     result.Usage,
		CreatedAt: time.Now(),
	}
	if err := a.history.AppendRun(ctx, record); err != nil {
		logger.Warn("failed to persist run", log.Error(err))
	}
}

// formatToolResult renders a tool outcome for the model.
func formatToolResult(execution ToolExecution) string {
	if !execution.Success {
		return fmt.Sprintf("Error executing %s: %s", execution.Tool, execution.Error)
	}
	if len(execution.Outputs) == 0 {
		return fmt.Sprintf("Tool %s completed with no output", execution.Tool)
	}
	encoded, err := json.Marshal(execution.Outputs)
	if err != nil {
		return fmt.Sprintf("Tool %s completed: %v", execution.Tool, execution.Outputs)
	}
	return string(encoded)
}
