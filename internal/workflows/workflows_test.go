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

package workflows

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stewarderrors "github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/workflow"
)

// scriptedRunner pops responses per agent ID and records every call.
type scriptedRunner struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     []runnerCall
}

type runnerCall struct {
	agentID string
	prompt  string
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{responses: make(map[string][]string)}
}

func (r *scriptedRunner) respond(agentID string, texts ...string) {
	r.responses[agentID] = append(r.responses[agentID], texts...)
}

func (r *scriptedRunner) RunAgent(ctx context.Context, agentID, prompt string) (workflow.StepOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, runnerCall{agentID: agentID, prompt: prompt})
	queue := r.responses[agentID]
	if len(queue) == 0 {
		return workflow.StepOutput{Text: "ok"}, nil
	}
	text := queue[0]
	r.responses[agentID] = queue[1:]
	return workflow.StepOutput{
		Text:     text,
		Metadata: workflow.OutputMetadata{Usage: &workflow.TokenUsage{TotalTokens: 10}},
	}, nil
}

func (r *scriptedRunner) agentIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.calls))
	for i, c := range r.calls {
		ids[i] = c.agentID
	}
	return ids
}

func (r *scriptedRunner) promptFor(agentID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.agentID == agentID {
			return c.prompt
		}
	}
	return ""
}

func TestBuiltInDefinitions(t *testing.T) {
	defs, err := BuiltIn()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, PerformanceInvestigationName, defs[0].Name)
	assert.Equal(t, SystemHealthAuditName, defs[1].Name)
	for _, def := range defs {
		assert.NotEmpty(t, def.Description, def.Name)
		assert.Contains(t, def.Outputs, "report", def.Name)
	}
	assert.Equal(t, []string{PerformanceInvestigationName, SystemHealthAuditName}, Names())
}

func TestGetUnknownWorkflow(t *testing.T) {
	_, err := Get("no-such-workflow")
	var notFound *stewarderrors.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestHealthAuditHealthySkipsInvestigation(t *testing.T) {
	def, err := Get(SystemHealthAuditName)
	require.NoError(t, err)

	runner := newScriptedRunner()
	runner.respond("performance",
		"All metrics are within normal ranges. CPU at 12%, pools balanced.",
		"Audit report: system healthy.")

	executor := workflow.NewExecutor(runner).WithFunctions(Functions())
	result, err := executor.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuccess, result.Status)
	assert.Equal(t, []string{"performance", "performance"}, runner.agentIDs(),
		"no investigation agents should run on a healthy report")
	assert.NotContains(t, result.Steps, "service_analysis")

	investigation := result.Steps["deep_investigation"]
	require.NotNil(t, investigation)
	assert.Equal(t, "else", investigation.Output.Data["branch"])

	assert.Equal(t, "Audit report: system healthy.", result.Outputs["report"])
	report := runner.calls[len(runner.calls)-1].prompt
	assert.Contains(t, report, "No deeper investigation was required")
}

func TestHealthAuditConcernsTriggerInvestigation(t *testing.T) {
	def, err := Get(SystemHealthAuditName)
	require.NoError(t, err)

	runner := newScriptedRunner()
	runner.respond("performance",
		"CPU utilization above 95% with critical temporary storage growth.",
		"Audit report: warning status.")
	runner.respond("sysadmin-discovery", "Relevant services: QSYS2.SYSTEM_STATUS.")
	runner.respond("sysadmin-browse", "Configuration review findings.")
	runner.respond("sysadmin-search", "Best practice guidance.")

	executor := workflow.NewExecutor(runner).WithFunctions(Functions())
	result, err := executor.Execute(context.Background(), def, map[string]interface{}{
		"request": "Monthly audit of PROD1.",
	})
	require.NoError(t, err)

	ids := runner.agentIDs()
	assert.Contains(t, ids, "sysadmin-discovery")
	assert.Contains(t, ids, "sysadmin-browse")
	assert.Contains(t, ids, "sysadmin-search")

	assert.Equal(t, workflow.StatusSuccess, result.Steps["service_analysis"].Status)
	assert.Equal(t, "then", result.Steps["deep_investigation"].Output.Data["branch"])

	discoveryPrompt := runner.promptFor("sysadmin-discovery")
	assert.Contains(t, discoveryPrompt, "CPU utilization above 95%")

	healthPrompt := runner.promptFor("performance")
	assert.Contains(t, healthPrompt, "Monthly audit of PROD1.")

	assert.Equal(t, "Audit report: warning status.", result.Outputs["report"])
}

func TestPerformanceInvestigationThreadsCollectedData(t *testing.T) {
	def, err := Get(PerformanceInvestigationName)
	require.NoError(t, err)

	metrics := strings.Repeat("m", 1500)
	runner := newScriptedRunner()
	runner.respond("performance",
		metrics,
		"Root cause: memory pool 2 is undersized.",
		"Recommendations: resize pool 2.")
	runner.respond("sysadmin-discovery", "Services: SYSTEM_ACTIVITY_INFO.")

	executor := workflow.NewExecutor(runner).WithFunctions(Functions())
	result, err := executor.Execute(context.Background(), def, nil)
	require.NoError(t, err)

	assert.Equal(t, workflow.StatusSuccess, result.Status)
	assert.Equal(t, workflow.StatusSuccess, result.Steps["initial_metrics"].Status)
	assert.Equal(t, workflow.StatusSuccess, result.Steps["monitoring_services"].Status)

	// The synthesis step bounds the collected metrics before handing them
	// to the analysis agent.
	analysisPrompt := result.Steps["deep_analysis"].Output.Text
	assert.Contains(t, analysisPrompt, strings.Repeat("m", 1000)+"...")
	assert.NotContains(t, analysisPrompt, strings.Repeat("m", 1001))
	assert.Contains(t, analysisPrompt, "SYSTEM_ACTIVITY_INFO")

	// Second performance call receives the synthesized analysis prompt.
	var performancePrompts []string
	for _, c := range runner.calls {
		if c.agentID == "performance" {
			performancePrompts = append(performancePrompts, c.prompt)
		}
	}
	require.Len(t, performancePrompts, 3)
	assert.Contains(t, performancePrompts[1], "INITIAL METRICS GATHERED")
	assert.Contains(t, performancePrompts[2], "Root cause: memory pool 2 is undersized.")

	assert.Equal(t, "Recommendations: resize pool 2.", result.Outputs["report"])
	assert.Equal(t, 40, result.Usage.TotalTokens)
}

func TestFunctionsRegistry(t *testing.T) {
	registry := Functions()
	assert.Equal(t, []string{"prepare_deep_analysis"}, registry.Names())

	fn, err := registry.Get("prepare_deep_analysis")
	require.NoError(t, err)

	// Missing collection steps yield empty sections, not an error.
	output, err := fn(context.Background(), &workflow.RunContext{})
	require.NoError(t, err)
	assert.Contains(t, output.Text, "ANALYSIS TASKS")
}
