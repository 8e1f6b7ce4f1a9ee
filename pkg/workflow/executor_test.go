package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-project/steward/pkg/errors"
)

// scriptedRunner returns canned responses per agent ID and records the
// prompts it received.
type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string]string
	failures  map[string]int
	calls     []string
	prompts   map[string]string
	delay     time.Duration
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		responses: make(map[string]string),
		failures:  make(map[string]int),
		prompts:   make(map[string]string),
	}
}

func (r *scriptedRunner) RunAgent(ctx context.Context, agentID, prompt string) (StepOutput, error) {
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return StepOutput{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, agentID)
	r.prompts[agentID] = prompt

	if n := r.failures[agentID]; n > 0 {
		r.failures[agentID] = n - 1
		return StepOutput{}, fmt.Errorf("agent %s transient failure", agentID)
	}

	text := r.responses[agentID]
	if text == "" {
		text = "response from " + agentID
	}
	return StepOutput{
		Text: text,
		Metadata: OutputMetadata{
			Model: "anthropic:claude-sonnet-4-5",
			Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		},
	}, nil
}

func agentStep(id, agentID, prompt string) StepDefinition {
	return StepDefinition{ID: id, Type: StepTypeAgent, Agent: agentID, Prompt: prompt}
}

func TestExecuteSequentialThreading(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses["performance"] = "CPU at 85%"

	def := &Definition{
		Name: "perf-check",
		Steps: []StepDefinition{
			agentStep("collect", "performance", "Collect metrics for {{.inputs.system}}"),
			agentStep("analyze", "analyst", "Analyze: {{.steps.collect.response}}"),
		},
	}

	result, err := NewExecutor(runner).Execute(context.Background(), def, map[string]interface{}{"system": "PROD1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, []string{"collect", "analyze"}, result.Order)
	assert.Equal(t, "Collect metrics for PROD1", runner.prompts["performance"])
	assert.Equal(t, "Analyze: CPU at 85%", runner.prompts["analyst"])
	assert.Equal(t, 30, result.Usage.TotalTokens)
	assert.NotEmpty(t, result.RunID)
}

func TestExecuteRequiredInputMissing(t *testing.T) {
	def := &Definition{
		Name: "perf-check",
		Inputs: map[string]InputDefinition{
			"system": {Type: "string", Required: true},
		},
		Steps: []StepDefinition{agentStep("collect", "performance", "hello")},
	}

	_, err := NewExecutor(newScriptedRunner()).Execute(context.Background(), def, nil)
	require.Error(t, err)

	var vErr *errors.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.Equal(t, "inputs.system", vErr.Field)
}

func TestExecuteInputDefaults(t *testing.T) {
	runner := newScriptedRunner()
	def := &Definition{
		Name: "perf-check",
		Inputs: map[string]InputDefinition{
			"limit": {Type: "number", Default: 10},
		},
		Steps: []StepDefinition{agentStep("collect", "performance", "top {{.inputs.limit}} jobs")},
	}

	_, err := NewExecutor(runner).Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "top 10 jobs", runner.prompts["performance"])
}

func TestExecuteConditionBranches(t *testing.T) {
	tests := []struct {
		name       string
		status     string
		wantBranch string
		wantAgent  string
	}{
		{"concerns trigger investigation", "WARNING: CPU utilization above 90%", "then", "investigator"},
		{"healthy system summarizes", "all services nominal", "else", "summarizer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newScriptedRunner()
			runner.responses["collector"] = tt.status

			def := &Definition{
				Name: "health-audit",
				Steps: []StepDefinition{
					agentStep("collect_status", "collector", "Collect system status"),
					{
						ID:   "triage",
						Type: StepTypeCondition,
						Condition: &ConditionDefinition{
							Expression: `containsAny(steps.collect_status.response, ["warning", "critical", "utilization above"])`,
							Then:       []StepDefinition{agentStep("investigate", "investigator", "Investigate: {{.steps.collect_status.response}}")},
							Else:       []StepDefinition{agentStep("summarize", "summarizer", "Summarize: {{.steps.collect_status.response}}")},
						},
					},
				},
			}

			result, err := NewExecutor(runner).Execute(context.Background(), def, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantBranch, result.Steps["triage"].Output.Data["branch"])
			assert.Contains(t, runner.calls, tt.wantAgent)
		})
	}
}

func TestExecuteParallelOutputs(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses["metrics"] = "metrics data"
	runner.responses["services"] = "services data"

	def := &Definition{
		Name: "perf-investigation",
		Steps: []StepDefinition{
			{
				ID:   "gather",
				Type: StepTypeParallel,
				Steps: []StepDefinition{
					agentStep("initial_metrics", "metrics", "Collect metrics"),
					agentStep("monitoring_services", "services", "Check monitoring services"),
				},
			},
			agentStep("synthesize", "analyst", "Combine {{.steps.initial_metrics.response}} and {{.steps.monitoring_services.response}}"),
		},
	}

	result, err := NewExecutor(runner).Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Steps["gather"].Status)
	assert.Equal(t, "metrics data", result.Steps["gather"].Output.Data["initial_metrics"])
	assert.Contains(t, runner.prompts["analyst"], "metrics data")
	assert.Contains(t, runner.prompts["analyst"], "services data")
}

// failingRunner counts concurrent executions and fails a designated agent.
type failingRunner struct {
	failAgent string
	running   atomic.Int32
	peak      atomic.Int32
	cancelled atomic.Int32
}

func (r *failingRunner) RunAgent(ctx context.Context, agentID, prompt string) (StepOutput, error) {
	n := r.running.Add(1)
	defer r.running.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if agentID == r.failAgent {
		return StepOutput{}, fmt.Errorf("agent %s broke", agentID)
	}

	select {
	case <-time.After(2 * time.Second):
		return StepOutput{Text: "done"}, nil
	case <-ctx.Done():
		r.cancelled.Add(1)
		return StepOutput{}, ctx.Err()
	}
}

func TestExecuteParallelFailFast(t *testing.T) {
	runner := &failingRunner{failAgent: "broken"}

	def := &Definition{
		Name: "fanout",
		Steps: []StepDefinition{
			{
				ID:             "gather",
				Type:           StepTypeParallel,
				MaxConcurrency: 3,
				Steps: []StepDefinition{
					agentStep("a", "slow", "x"),
					agentStep("b", "broken", "x"),
					agentStep("c", "slow", "x"),
				},
			},
		},
	}

	start := time.Now()
	result, err := NewExecutor(runner).Execute(context.Background(), def, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broke")
	assert.Equal(t, StatusFailed, result.Status)
	// Fail-fast: siblings are cancelled rather than running out their 2s sleep.
	assert.Less(t, time.Since(start), 1500*time.Millisecond)
}

func TestExecuteParallelConcurrencyBound(t *testing.T) {
	runner := &failingRunner{}

	children := make([]StepDefinition, 5)
	for i := range children {
		children[i] = agentStep(fmt.Sprintf("child_%d", i), "slow", "x")
		children[i].Timeout = 1
		children[i].Retry = &RetryDefinition{MaxAttempts: 1}
	}

	def := &Definition{
		Name: "bounded",
		Steps: []StepDefinition{
			{ID: "gather", Type: StepTypeParallel, MaxConcurrency: 2, Steps: children},
		},
	}

	_, err := NewExecutor(runner).Execute(context.Background(), def, nil)
	require.Error(t, err) // children time out at 1s
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

func TestExecuteRetrySucceedsAfterTransientFailure(t *testing.T) {
	runner := newScriptedRunner()
	runner.failures["flaky"] = 1

	def := &Definition{
		Name: "retry-check",
		Steps: []StepDefinition{
			{
				ID:     "query",
				Type:   StepTypeAgent,
				Agent:  "flaky",
				Prompt: "run query",
				Retry:  &RetryDefinition{MaxAttempts: 2, BackoffBase: 1},
			},
		},
	}

	result, err := NewExecutor(runner).Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Steps["query"].Attempts)
	assert.Equal(t, StatusSuccess, result.Steps["query"].Status)
}

func TestExecuteStepGateSkips(t *testing.T) {
	runner := newScriptedRunner()

	def := &Definition{
		Name: "gated",
		Steps: []StepDefinition{
			agentStep("collect", "collector", "status"),
			{
				ID:     "deep_dive",
				Type:   StepTypeAgent,
				Agent:  "investigator",
				Prompt: "dig into {{.steps.collect.response}}",
				If:     `inputs.deep == true`,
			},
			agentStep("report", "reporter", "Report on {{.steps.deep_dive.response}} end"),
		},
	}

	result, err := NewExecutor(runner).Execute(context.Background(), def, map[string]interface{}{"deep": false})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, result.Steps["deep_dive"].Status)
	assert.NotContains(t, runner.calls, "investigator")
	// Skipped step resolves to empty output, not an undefined-variable error.
	assert.Equal(t, "Report on  end", runner.prompts["reporter"])
}

func TestExecuteOnErrorStrategies(t *testing.T) {
	t.Run("ignore continues with empty output", func(t *testing.T) {
		runner := newScriptedRunner()
		runner.failures["flaky"] = 10

		def := &Definition{
			Name: "tolerant",
			Steps: []StepDefinition{
				{
					ID: "optional", Type: StepTypeAgent, Agent: "flaky", Prompt: "x",
					Retry:   &RetryDefinition{MaxAttempts: 1},
					OnError: &ErrorDefinition{Strategy: ErrorStrategyIgnore},
				},
				agentStep("final", "reporter", "after {{.steps.optional.response}} done"),
			},
		}

		result, err := NewExecutor(runner).Execute(context.Background(), def, nil)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, result.Steps["optional"].Status)
		assert.Equal(t, StatusSuccess, result.Status)
	})

	t.Run("fallback output threads to later steps", func(t *testing.T) {
		runner := newScriptedRunner()
		runner.failures["flaky"] = 10

		def := &Definition{
			Name: "fallback",
			Steps: []StepDefinition{
				{
					ID: "optional", Type: StepTypeAgent, Agent: "flaky", Prompt: "x",
					Retry:   &RetryDefinition{MaxAttempts: 1},
					OnError: &ErrorDefinition{Strategy: ErrorStrategyFallback, Fallback: "no data available"},
				},
				agentStep("final", "reporter", "summary: {{.steps.optional.response}}"),
			},
		}

		_, err := NewExecutor(runner).Execute(context.Background(), def, nil)
		require.NoError(t, err)
		assert.Equal(t, "summary: no data available", runner.prompts["reporter"])
	})
}

func TestExecuteFunctionStep(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses["collector"] = "a very long metrics report about CPU and storage"

	functions := NewFunctionRegistry()
	require.NoError(t, functions.Register("build_analysis_prompt", func(ctx context.Context, rc *RunContext) (StepOutput, error) {
		return StepOutput{
			Text: "Analyze the following:\n" + rc.StepTextTruncated("collect", 20),
		}, nil
	}))

	def := &Definition{
		Name: "synthesis",
		Steps: []StepDefinition{
			agentStep("collect", "collector", "collect"),
			{ID: "assemble", Type: StepTypeFunction, Function: "build_analysis_prompt"},
			agentStep("analyze", "analyst", "{{.steps.assemble.response}}"),
		},
	}

	result, err := NewExecutor(runner).WithFunctions(functions).Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, result.Steps["assemble"].Status)
	assert.Contains(t, runner.prompts["analyst"], "a very long metrics ...")
}

func TestExecuteDeclaredOutputs(t *testing.T) {
	runner := newScriptedRunner()
	runner.responses["reporter"] = "final report"

	def := &Definition{
		Name:  "with-outputs",
		Steps: []StepDefinition{agentStep("report", "reporter", "write it")},
		Outputs: map[string]string{
			"report": "{{.steps.report.response}}",
		},
	}

	result, err := NewExecutor(runner).Execute(context.Background(), def, nil)
	require.NoError(t, err)
	assert.Equal(t, "final report", result.Outputs["report"])
	assert.Equal(t, "final report", result.FinalText())
}

func TestExecuteUnknownFunctionFails(t *testing.T) {
	def := &Definition{
		Name: "missing-fn",
		Steps: []StepDefinition{
			{ID: "x", Type: StepTypeFunction, Function: "nope", Retry: &RetryDefinition{MaxAttempts: 1}},
		},
	}

	_, err := NewExecutor(newScriptedRunner()).Execute(context.Background(), def, nil)
	require.Error(t, err)

	var notFound *errors.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Equal(t, "function", notFound.Resource)
}
