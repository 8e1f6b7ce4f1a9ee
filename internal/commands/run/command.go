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

// Package run implements the run command: execute a single agent or a
// workflow against the configured MCP server and LLM provider.
package run

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/steward-project/steward/internal/commands/shared"
	workflowscmd "github.com/steward-project/steward/internal/commands/workflows"
	builtinworkflows "github.com/steward-project/steward/internal/workflows"
	"github.com/steward-project/steward/pkg/workflow"
)

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var (
		agentID        string
		workflowRef    string
		model          string
		session        string
		inputs         []string
		mcpURL         string
		mcpTransport   string
		noStream       bool
		debugFiltering bool
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run an agent or a workflow",
		Long: `Run executes one of the built-in agents, or a workflow, with a prompt.

Examples:
  steward run --agent performance "Why is the system slow right now?"
  steward run --agent sysadmin-search --session triage "Find services for temp storage"
  steward run --workflow system-health-audit
  steward run --workflow performance-investigation "Batch jobs overrun since Tuesday"
  steward run --workflow ./my-workflow.yaml --input system=PROD1

Model references take the form provider:model_id, for example
anthropic:claude-sonnet-4-5 or ollama:llama3.1:8b.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (agentID == "") == (workflowRef == "") {
				return shared.NewInvalidInputError(
					"exactly one of --agent or --workflow is required", nil)
			}

			runtime, err := shared.NewRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()
			if debugFiltering {
				runtime.Config.DebugFiltering = true
			}
			if mcpURL != "" {
				runtime.Config.MCP.URL = mcpURL
			}
			if mcpTransport != "" {
				runtime.Config.MCP.Transport = mcpTransport
			}

			prompt := strings.TrimSpace(strings.Join(args, " "))
			opts := runOptions{
				model:    model,
				session:  session,
				prompt:   prompt,
				stream:   !noStream && !shared.GetJSON() && !shared.GetQuiet(),
				inputs:   inputs,
				quiet:    shared.GetQuiet(),
				jsonMode: shared.GetJSON(),
			}

			if agentID != "" {
				if prompt == "" {
					return shared.NewInvalidInputError("agent runs require a prompt", nil)
				}
				return runAgent(cmd, runtime, agentID, opts)
			}
			return runWorkflow(cmd, runtime, workflowRef, opts)
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "Agent to run")
	cmd.Flags().StringVar(&workflowRef, "workflow", "", "Workflow to run (name or YAML file)")
	cmd.Flags().StringVar(&model, "model", "", "Model override (provider:model_id)")
	cmd.Flags().StringVar(&session, "session", "", "Session for conversation history")
	cmd.Flags().StringSliceVar(&inputs, "input", nil, "Workflow input as key=value (repeatable)")
	cmd.Flags().StringVar(&mcpURL, "mcp-url", "", "MCP server URL override")
	cmd.Flags().StringVar(&mcpTransport, "mcp-transport", "", "MCP transport override (http, sse, stdio)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Disable streaming output")
	cmd.Flags().BoolVar(&debugFiltering, "debug-filtering", false, "Log the per-tool filter decision trace")

	return cmd
}

// runOptions carries the resolved flag values into the two run modes.
type runOptions struct {
	model    string
	session  string
	prompt   string
	stream   bool
	inputs   []string
	quiet    bool
	jsonMode bool
}

// parseInputs converts key=value pairs into a workflow input map.
func parseInputs(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

// resolveWorkflow locates the named workflow among the built-ins, the
// user workflow directory, and explicit file paths.
func resolveWorkflow(ref string) (*workflow.Definition, error) {
	return workflowscmd.Resolve(ref)
}

// builtinFunctions returns the synthesis functions available to every
// workflow run.
func builtinFunctions() *workflow.FunctionRegistry {
	return builtinworkflows.Functions()
}
