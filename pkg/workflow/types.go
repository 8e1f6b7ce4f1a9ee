// Package workflow implements the step-graph execution model: a named
// sequence of steps, optionally with parallel branches and boolean
// conditions, where each step either delegates to an agent or runs a
// registered synthesis function, and outputs thread to later steps by
// step ID.
package workflow

import (
	"errors"
	"time"
)

// Sentinel errors for output access.
var (
	// ErrKeyNotFound indicates a requested output key does not exist.
	ErrKeyNotFound = errors.New("key not found")
)

// StepStatus represents the lifecycle state of a step execution.
type StepStatus string

const (
	// StatusPending indicates the step has not started.
	StatusPending StepStatus = "pending"
	// StatusRunning indicates the step is executing.
	StatusRunning StepStatus = "running"
	// StatusSuccess indicates the step completed without error.
	StatusSuccess StepStatus = "success"
	// StatusFailed indicates the step failed after exhausting retries.
	StatusFailed StepStatus = "failed"
	// StatusSkipped indicates the step's condition gate evaluated false.
	StatusSkipped StepStatus = "skipped"
)

// TokenUsage tracks LLM token consumption for a step.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add accumulates usage from another measurement.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// OutputMetadata carries execution metadata alongside a step's output.
type OutputMetadata struct {
	// Duration is the wall-clock execution time.
	Duration time.Duration `json:"duration"`

	// Model is the model that produced the output, if an agent ran.
	Model string `json:"model,omitempty"`

	// Usage is the token consumption, if an agent ran.
	Usage *TokenUsage `json:"usage,omitempty"`
}

// StepOutput is the result a completed step exposes to later steps.
// Outputs are immutable once recorded: later steps read, never rewrite,
// prior outputs.
type StepOutput struct {
	// Text is the primary textual output (an agent response, or a
	// function's rendered result).
	Text string `json:"text"`

	// Data holds structured output values, if any.
	Data map[string]interface{} `json:"data,omitempty"`

	// Metadata carries execution metadata.
	Metadata OutputMetadata `json:"metadata"`
}

// ToMap renders the output for template and expression contexts.
// Both "text" and "response" expose the textual output; workflow authors
// coming from the agent side tend to write {{.steps.id.response}}.
func (o StepOutput) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"text":     o.Text,
		"response": o.Text,
	}
	for k, v := range o.Data {
		if k == "text" || k == "response" {
			continue
		}
		m[k] = v
	}
	return m
}

// StepResult records the outcome of a single step execution.
type StepResult struct {
	// StepID identifies the step.
	StepID string `json:"step_id"`

	// Status is the final lifecycle state.
	Status StepStatus `json:"status"`

	// Output is the step's output (zero value when skipped or failed).
	Output StepOutput `json:"output"`

	// Error is the failure, if Status is StatusFailed.
	Error error `json:"-"`

	// Attempts is the number of execution attempts made.
	Attempts int `json:"attempts"`

	// StartedAt and FinishedAt bound the execution window.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunResult is the outcome of a full workflow execution.
type RunResult struct {
	// RunID uniquely identifies this execution.
	RunID string `json:"run_id"`

	// Workflow is the definition name.
	Workflow string `json:"workflow"`

	// Status is success or failed.
	Status StepStatus `json:"status"`

	// Steps holds per-step results keyed by step ID, including nested
	// parallel children and branch steps.
	Steps map[string]*StepResult `json:"steps"`

	// Order lists top-level step IDs in execution order.
	Order []string `json:"order"`

	// Outputs holds the workflow's declared outputs, resolved from the
	// definition's output templates.
	Outputs map[string]string `json:"outputs,omitempty"`

	// Usage aggregates token consumption across all agent steps.
	Usage TokenUsage `json:"usage"`

	// Duration is the total wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// FinalText returns the text of the last successful top-level step,
// which serves as the workflow's answer when no outputs are declared.
func (r *RunResult) FinalText() string {
	for i := len(r.Order) - 1; i >= 0; i-- {
		if res, ok := r.Steps[r.Order[i]]; ok && res.Status == StatusSuccess {
			return res.Output.Text
		}
	}
	return ""
}
