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

// Package cli assembles the steward root command.
package cli

import (
	"github.com/spf13/cobra"

	_ "github.com/steward-project/steward/internal/agents" // register built-in agents
	agentscmd "github.com/steward-project/steward/internal/commands/agents"
	authcmd "github.com/steward-project/steward/internal/commands/auth"
	runcmd "github.com/steward-project/steward/internal/commands/run"
	"github.com/steward-project/steward/internal/commands/shared"
	toolscmd "github.com/steward-project/steward/internal/commands/tools"
	versioncmd "github.com/steward-project/steward/internal/commands/version"
	workflowscmd "github.com/steward-project/steward/internal/commands/workflows"
)

// SetVersion sets the build-time version information (called from main).
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// HandleExitError prints the error and exits with its code.
func HandleExitError(err error) {
	shared.HandleExitError(err)
}

// NewRootCommand creates the root command for steward.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "steward",
		Short: "Steward - IBM i administration agents",
		Long: `Steward runs LLM-backed agents and workflows for IBM i system
administration. Agents discover their tools from an IBM i MCP server,
scoped by toolset annotations, and investigations can be composed into
multi-step workflows.

Run 'steward auth set anthropic' to store an API key, then
'steward run --agent performance "How is the system doing?"' to start.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	quiet, json, debug, config := shared.RegisterFlagPointers()
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Suppress non-error output")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVar(debug, "debug", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.steward/config.yaml)")

	cmd.AddCommand(runcmd.NewCommand())
	cmd.AddCommand(agentscmd.NewCommand())
	cmd.AddCommand(workflowscmd.NewCommand())
	cmd.AddCommand(toolscmd.NewCommand())
	cmd.AddCommand(authcmd.NewCommand())
	cmd.AddCommand(versioncmd.NewCommand())

	return cmd
}
