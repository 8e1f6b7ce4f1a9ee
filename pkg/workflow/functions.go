package workflow

import (
	"context"
	"sort"
	"sync"

	"github.com/steward-project/steward/pkg/errors"
)

// RunContext exposes the workflow state to a function step: the input
// values and the outputs of the steps that already completed.
type RunContext struct {
	// Inputs holds the workflow input values.
	Inputs map[string]interface{}

	steps map[string]StepOutput
}

// StepText returns the textual output of a completed step, or "" when
// the step has not run or was skipped.
func (rc *RunContext) StepText(stepID string) string {
	return rc.steps[stepID].Text
}

// StepTextTruncated returns the textual output bounded to n runes.
// Synthesis functions use this to keep assembled prompts within a sane
// size when a collection step returned a large report.
func (rc *RunContext) StepTextTruncated(stepID string, n int) string {
	return truncateRunes(n, rc.steps[stepID].Text)
}

// StepData returns the structured output of a completed step.
func (rc *RunContext) StepData(stepID string) map[string]interface{} {
	return rc.steps[stepID].Data
}

// HasStep reports whether a step has completed.
func (rc *RunContext) HasStep(stepID string) bool {
	_, ok := rc.steps[stepID]
	return ok
}

// StepFunc is a registered synthesis function runnable as a workflow step.
type StepFunc func(ctx context.Context, rc *RunContext) (StepOutput, error)

// FunctionRegistry maintains the synthesis functions available to
// function steps. It is safe for concurrent use.
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]StepFunc
}

// NewFunctionRegistry creates an empty function registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		functions: make(map[string]StepFunc),
	}
}

// Register adds a function under the given name.
func (r *FunctionRegistry) Register(name string, fn StepFunc) error {
	if name == "" {
		return &errors.ValidationError{Field: "function", Message: "function name must not be empty"}
	}
	if fn == nil {
		return &errors.ValidationError{Field: "function", Message: "function must not be nil"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.functions[name]; exists {
		return &errors.ValidationError{
			Field:   "function",
			Message: "function already registered: " + name,
		}
	}
	r.functions[name] = fn
	return nil
}

// Get returns the function registered under the given name.
func (r *FunctionRegistry) Get(name string) (StepFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "function", ID: name}
	}
	return fn, nil
}

// Names returns the sorted names of all registered functions.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
