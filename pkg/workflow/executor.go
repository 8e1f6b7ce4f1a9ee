package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/workflow/expression"
)

// AgentRunner executes an agent-step prompt and returns the agent's
// output. The agent layer implements this; the executor stays decoupled
// from agent construction and tool wiring.
type AgentRunner interface {
	RunAgent(ctx context.Context, agentID, prompt string) (StepOutput, error)
}

// Executor walks a workflow definition and executes its steps.
//
// Top-level steps run sequentially. Parallel steps run their children
// concurrently under a semaphore with fail-fast cancellation. Condition
// steps evaluate an expression and run one branch. Leaf steps (agent and
// function) get per-step timeouts and retry with exponential backoff.
type Executor struct {
	agents      AgentRunner
	functions   *FunctionRegistry
	eval        *expression.Evaluator
	logger      *slog.Logger
	maxParallel int
	env         map[string]string
}

// NewExecutor creates an executor delegating agent steps to the given runner.
func NewExecutor(agents AgentRunner) *Executor {
	return &Executor{
		agents:      agents,
		functions:   NewFunctionRegistry(),
		eval:        expression.NewEvaluator(),
		logger:      slog.Default(),
		maxParallel: DefaultParallelConcurrency,
	}
}

// WithLogger sets the executor's logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// WithFunctions sets the registry used by function steps.
func (e *Executor) WithFunctions(functions *FunctionRegistry) *Executor {
	e.functions = functions
	return e
}

// WithParallelConcurrency bounds concurrently running parallel children.
func (e *Executor) WithParallelConcurrency(n int) *Executor {
	if n > 0 {
		e.maxParallel = n
	}
	return e
}

// WithEnv exposes the given values to templates and expressions as env.*.
func (e *Executor) WithEnv(env map[string]string) *Executor {
	e.env = env
	return e
}

// Execute runs the workflow with the given inputs.
// The returned RunResult is populated even on failure, so callers can
// inspect which step failed and what completed before it.
func (e *Executor) Execute(ctx context.Context, def *Definition, inputs map[string]interface{}) (*RunResult, error) {
	start := time.Now()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	resolved, err := resolveInputs(def, inputs)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := e.logger.With("run_id", runID, "workflow", def.Name)
	logger.Info("workflow started", "steps", len(def.Steps))

	tc := NewTemplateContext(resolved)
	if e.env != nil {
		tc.Env = e.env
	}

	result := &RunResult{
		RunID:    runID,
		Workflow: def.Name,
		Status:   StatusSuccess,
		Steps:    make(map[string]*StepResult),
	}

	for i := range def.Steps {
		step := &def.Steps[i]
		result.Order = append(result.Order, step.ID)

		stepResults, err := e.runStep(ctx, step, tc, logger)
		for id, sr := range stepResults {
			result.Steps[id] = sr
		}
		if err != nil {
			result.Status = StatusFailed
			result.Duration = time.Since(start)
			logger.Error("workflow failed", "step_id", step.ID, "error", err)
			return result, errors.Wrapf(err, "step %s", step.ID)
		}
	}

	for _, sr := range result.Steps {
		if sr.Output.Metadata.Usage != nil {
			result.Usage.Add(*sr.Output.Metadata.Usage)
		}
	}

	if len(def.Outputs) > 0 {
		result.Outputs = make(map[string]string, len(def.Outputs))
		for name, tmpl := range def.Outputs {
			value, err := tc.ResolveTemplate(tmpl)
			if err != nil {
				result.Status = StatusFailed
				result.Duration = time.Since(start)
				return result, errors.Wrapf(err, "resolving output %s", name)
			}
			result.Outputs[name] = value
		}
	}

	result.Duration = time.Since(start)
	logger.Info("workflow completed",
		"duration_ms", result.Duration.Milliseconds(),
		"total_tokens", result.Usage.TotalTokens)
	return result, nil
}

// resolveInputs validates required inputs and applies defaults.
func resolveInputs(def *Definition, inputs map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		resolved[k] = v
	}
	for name, decl := range def.Inputs {
		if _, ok := resolved[name]; ok {
			continue
		}
		if decl.Default != nil {
			resolved[name] = decl.Default
			continue
		}
		if decl.Required {
			return nil, &errors.ValidationError{
				Field:      "inputs." + name,
				Message:    "required input is missing",
				Suggestion: fmt.Sprintf("provide a value for %q", name),
			}
		}
	}
	return resolved, nil
}

// runStep executes one step (and, for containers, its descendants) and
// returns every StepResult it produced, keyed by step ID.
func (e *Executor) runStep(ctx context.Context, step *StepDefinition, tc *TemplateContext, logger *slog.Logger) (map[string]*StepResult, error) {
	results := make(map[string]*StepResult)
	sr := &StepResult{
		StepID:    step.ID,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}
	results[step.ID] = sr
	stepLogger := logger.With("step_id", step.ID)

	if step.If != "" {
		exprCtx := expression.BuildContext(tc.Inputs, tc.Steps, tc.Env)
		ok, err := e.eval.Evaluate(step.If, exprCtx)
		if err != nil {
			sr.Status = StatusFailed
			sr.Error = err
			sr.FinishedAt = time.Now()
			return results, err
		}
		if !ok {
			sr.Status = StatusSkipped
			sr.FinishedAt = time.Now()
			tc.RecordStep(step.ID, StepOutput{})
			stepLogger.Info("step skipped", "if", step.If)
			return results, nil
		}
	}

	stepLogger.Info("step started", "type", step.Type)

	var output StepOutput
	var err error
	switch step.Type {
	case StepTypeCondition:
		output, err = e.runCondition(ctx, step, tc, results, stepLogger)
	case StepTypeParallel:
		output, err = e.runParallel(ctx, step, tc, results, stepLogger)
	default:
		output, err = e.runLeafWithRetry(ctx, step, tc, stepLogger, sr)
	}

	sr.FinishedAt = time.Now()
	output.Metadata.Duration = sr.FinishedAt.Sub(sr.StartedAt)

	if err != nil {
		sr.Error = err
		sr.Status = StatusFailed

		strategy := ErrorStrategyFail
		fallback := ""
		if step.OnError != nil {
			strategy = step.OnError.Strategy
			fallback = step.OnError.Fallback
		}
		switch strategy {
		case ErrorStrategyIgnore:
			stepLogger.Warn("step failed, continuing", "error", err)
			tc.RecordStep(step.ID, StepOutput{})
			return results, nil
		case ErrorStrategyFallback:
			stepLogger.Warn("step failed, using fallback output", "error", err)
			tc.RecordStep(step.ID, StepOutput{Text: fallback})
			return results, nil
		default:
			stepLogger.Error("step failed", "error", err, "attempts", sr.Attempts)
			return results, err
		}
	}

	sr.Status = StatusSuccess
	sr.Output = output
	tc.RecordStep(step.ID, output)
	stepLogger.Info("step completed",
		"duration_ms", output.Metadata.Duration.Milliseconds())
	return results, nil
}

// runLeafWithRetry executes an agent or function step under the step's
// retry policy.
func (e *Executor) runLeafWithRetry(ctx context.Context, step *StepDefinition, tc *TemplateContext, logger *slog.Logger, sr *StepResult) (StepOutput, error) {
	retry := step.effectiveRetry()
	delay := time.Duration(retry.BackoffBase) * time.Second

	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		sr.Attempts = attempt

		output, err := e.runLeaf(ctx, step, tc)
		if err == nil {
			return output, nil
		}
		lastErr = err

		// A cancelled run is not retryable.
		if ctx.Err() != nil {
			break
		}
		if attempt < retry.MaxAttempts {
			logger.Warn("step attempt failed, retrying",
				"attempt", attempt,
				"backoff", delay.String(),
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return StepOutput{}, ctx.Err()
			}
			delay = time.Duration(float64(delay) * retry.BackoffMultiplier)
		}
	}
	return StepOutput{}, lastErr
}

// runLeaf executes a single attempt of an agent or function step with
// the step timeout applied.
func (e *Executor) runLeaf(ctx context.Context, step *StepDefinition, tc *TemplateContext) (StepOutput, error) {
	timeout := step.effectiveTimeout()
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var output StepOutput
	var err error

	switch step.Type {
	case StepTypeAgent:
		var prompt string
		prompt, err = tc.ResolveTemplate(step.Prompt)
		if err != nil {
			return StepOutput{}, err
		}
		output, err = e.agents.RunAgent(stepCtx, step.Agent, prompt)
	case StepTypeFunction:
		var fn StepFunc
		fn, err = e.functions.Get(step.Function)
		if err != nil {
			return StepOutput{}, err
		}
		rc := &RunContext{Inputs: tc.Inputs, steps: tc.raw}
		output, err = fn(stepCtx, rc)
	default:
		return StepOutput{}, &errors.ValidationError{
			Field:   "type",
			Message: fmt.Sprintf("step %s has non-executable type %q", step.ID, step.Type),
		}
	}

	if err != nil && stepCtx.Err() == context.DeadlineExceeded {
		return StepOutput{}, &errors.TimeoutError{
			Operation: fmt.Sprintf("workflow step %s", step.ID),
			Duration:  timeout,
			Cause:     err,
		}
	}
	return output, err
}

// runCondition evaluates the step's expression and runs the chosen branch
// sequentially on the parent context.
func (e *Executor) runCondition(ctx context.Context, step *StepDefinition, tc *TemplateContext, results map[string]*StepResult, logger *slog.Logger) (StepOutput, error) {
	exprCtx := expression.BuildContext(tc.Inputs, tc.Steps, tc.Env)
	matched, err := e.eval.Evaluate(step.Condition.Expression, exprCtx)
	if err != nil {
		return StepOutput{}, err
	}

	branchName := "then"
	branch := step.Condition.Then
	if !matched {
		branchName = "else"
		branch = step.Condition.Else
	}
	logger.Info("condition evaluated",
		"expression", step.Condition.Expression,
		"branch", branchName)

	var lastText string
	for i := range branch {
		child := &branch[i]
		childResults, err := e.runStep(ctx, child, tc, logger)
		for id, sr := range childResults {
			results[id] = sr
		}
		if err != nil {
			return StepOutput{}, err
		}
		if sr, ok := childResults[child.ID]; ok && sr.Status == StatusSuccess {
			lastText = sr.Output.Text
		}
	}

	return StepOutput{
		Text: lastText,
		Data: map[string]interface{}{"branch": branchName},
	}, nil
}

// runParallel runs the step's children concurrently. Concurrency is
// bounded by a semaphore; the first failure cancels the siblings.
// Every child is observed before return, so no goroutines leak even on
// cancellation.
func (e *Executor) runParallel(ctx context.Context, step *StepDefinition, tc *TemplateContext, results map[string]*StepResult, logger *slog.Logger) (StepOutput, error) {
	concurrency := step.MaxConcurrency
	if concurrency <= 0 {
		concurrency = e.maxParallel
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type childOutcome struct {
		id      string
		results map[string]*StepResult
		err     error
	}

	sem := make(chan struct{}, concurrency)
	outcomes := make(chan childOutcome, len(step.Steps))
	var wg sync.WaitGroup

	for i := range step.Steps {
		child := step.Steps[i]
		wg.Add(1)
		go func(child StepDefinition) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-pctx.Done():
				outcomes <- childOutcome{id: child.ID, err: pctx.Err()}
				return
			}

			// Each child sees a snapshot of the context; siblings do not
			// observe each other's outputs.
			childTC := tc.Clone()
			childResults, err := e.runStep(pctx, &child, childTC, logger)
			if err != nil {
				cancel()
			}
			outcomes <- childOutcome{id: child.ID, results: childResults, err: err}
		}(child)
	}

	wg.Wait()
	close(outcomes)

	collected := make(map[string]childOutcome, len(step.Steps))
	var firstErr error
	for outcome := range outcomes {
		collected[outcome.id] = outcome
		for id, sr := range outcome.results {
			results[id] = sr
		}
		if outcome.err != nil {
			// Prefer a real failure over the cancellation it caused.
			if firstErr == nil || errors.Is(firstErr, context.Canceled) {
				firstErr = outcome.err
			}
		}
	}
	if firstErr != nil {
		return StepOutput{}, firstErr
	}

	// Publish child outputs to the parent context and build the container
	// output in definition order.
	data := make(map[string]interface{}, len(step.Steps))
	var texts []string
	for i := range step.Steps {
		child := &step.Steps[i]
		sr, ok := results[child.ID]
		if !ok {
			continue
		}
		if sr.Status == StatusSuccess || sr.Status == StatusSkipped {
			tc.RecordStep(child.ID, sr.Output)
			data[child.ID] = sr.Output.Text
			if sr.Output.Text != "" {
				texts = append(texts, sr.Output.Text)
			}
		}
	}

	return StepOutput{
		Text: strings.Join(texts, "\n\n"),
		Data: data,
	}, nil
}
