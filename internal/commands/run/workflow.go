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

package run

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/steward-project/steward/internal/commands/shared"
	"github.com/steward-project/steward/internal/workflows"
	"github.com/steward-project/steward/pkg/agent"
	"github.com/steward-project/steward/pkg/workflow"
)

const timeRounding = 10 * time.Millisecond

// workflowRunOutput is the JSON shape for a workflow run.
type workflowRunOutput struct {
	Workflow   string            `json:"workflow"`
	RunID      string            `json:"run_id"`
	Status     string            `json:"status"`
	Outputs    map[string]string `json:"outputs,omitempty"`
	Response   string            `json:"response"`
	Tokens     int               `json:"tokens"`
	DurationMs int64             `json:"duration_ms"`
}

func runWorkflow(cmd *cobra.Command, runtime *shared.Runtime, ref string, opts runOptions) error {
	ctx := cmd.Context()

	def, err := resolveWorkflow(ref)
	if err != nil {
		return shared.NewInvalidInputError("resolving workflow "+ref, err)
	}

	inputs, err := parseInputs(opts.inputs)
	if err != nil {
		return shared.NewInvalidInputError("workflow inputs", err)
	}
	if opts.prompt != "" {
		if inputs == nil {
			inputs = make(map[string]interface{}, 1)
		}
		if _, ok := inputs["request"]; !ok {
			inputs["request"] = opts.prompt
		}
	}

	runner := workflows.NewRunner(func(ctx context.Context, agentID string) (*agent.Agent, error) {
		return runtime.BuildAgent(ctx, agentID, shared.AgentOptions{
			Model:     opts.model,
			SessionID: opts.session,
		})
	}).WithSession(opts.session).WithLogger(runtime.Logger)

	if opts.stream {
		var lastAgent string
		runner = runner.WithStream(func(agentID, delta string) {
			if agentID != lastAgent {
				if lastAgent != "" {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				fmt.Fprintln(cmd.OutOrStdout(), shared.Header.Render("["+agentID+"]"))
				lastAgent = agentID
			}
			fmt.Fprint(cmd.OutOrStdout(), delta)
		})
	}

	executor := workflow.NewExecutor(runner).
		WithFunctions(builtinFunctions()).
		WithLogger(runtime.Logger)

	result, err := executor.Execute(ctx, def, inputs)
	if err != nil {
		if result != nil {
			printStepSummary(cmd, result, opts)
		}
		return shared.NewExecutionError("workflow failed", err)
	}

	if opts.jsonMode {
		return shared.PrintJSON(cmd.OutOrStdout(), workflowRunOutput{
			Workflow:   result.Workflow,
			RunID:      result.RunID,
			Status:     string(result.Status),
			Outputs:    result.Outputs,
			Response:   finalText(result),
			Tokens:     result.Usage.TotalTokens,
			DurationMs: result.Duration.Milliseconds(),
		})
	}

	if opts.stream {
		cmd.Println()
	} else {
		cmd.Println(finalText(result))
	}

	if !opts.quiet {
		cmd.Println()
		printStepSummary(cmd, result, opts)
		cmd.Println(shared.Muted.Render(fmt.Sprintf(
			"%d tokens | %s", result.Usage.TotalTokens, result.Duration.Round(timeRounding))))
	}
	return nil
}

// finalText prefers the declared report output, falling back to the last
// successful step.
func finalText(result *workflow.RunResult) string {
	if report, ok := result.Outputs["report"]; ok && report != "" {
		return report
	}
	return result.FinalText()
}

// printStepSummary renders one status line per executed step.
func printStepSummary(cmd *cobra.Command, result *workflow.RunResult, opts runOptions) {
	if opts.quiet || opts.jsonMode {
		return
	}
	for _, id := range result.Order {
		sr, ok := result.Steps[id]
		if !ok {
			continue
		}
		switch sr.Status {
		case workflow.StatusSuccess:
			cmd.Println(shared.RenderOK(fmt.Sprintf("%-24s %s",
				id, sr.FinishedAt.Sub(sr.StartedAt).Round(timeRounding))))
		case workflow.StatusSkipped:
			cmd.Println(shared.Muted.Render("- " + id + " (skipped)"))
		case workflow.StatusFailed:
			cmd.Println(shared.RenderError(fmt.Sprintf("%-24s %v", id, sr.Error)))
		}
	}
}
