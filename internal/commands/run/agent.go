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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steward-project/steward/internal/commands/shared"
	"github.com/steward-project/steward/pkg/agent"
)

// agentRunOutput is the JSON shape for a single agent run.
type agentRunOutput struct {
	Agent      string `json:"agent"`
	Response   string `json:"response"`
	Model      string `json:"model"`
	Iterations int    `json:"iterations"`
	ToolCalls  int    `json:"tool_calls"`
	Tokens     int    `json:"tokens"`
	DurationMs int64  `json:"duration_ms"`
	Session    string `json:"session,omitempty"`
}

func runAgent(cmd *cobra.Command, runtime *shared.Runtime, agentID string, opts runOptions) error {
	ctx := cmd.Context()

	sessionID := opts.session
	if sessionID != "" {
		store, err := runtime.Store()
		if err != nil {
			return err
		}
		session, err := store.EnsureSession(ctx, agentID, sessionID)
		if err != nil {
			return shared.NewExecutionError("preparing session", err)
		}
		sessionID = session.ID
	}

	a, err := runtime.BuildAgent(ctx, agentID, shared.AgentOptions{
		Model:     opts.model,
		SessionID: sessionID,
	})
	if err != nil {
		return shared.NewExecutionError("building agent "+agentID, err)
	}

	runOpts := agent.RunOptions{SessionID: sessionID}
	if opts.stream {
		runOpts.Stream = func(delta string) {
			fmt.Fprint(cmd.OutOrStdout(), delta)
		}
	}

	result, err := a.Run(ctx, opts.prompt, runOpts)
	if err != nil {
		return shared.NewExecutionError("agent run failed", err)
	}

	if opts.jsonMode {
		return shared.PrintJSON(cmd.OutOrStdout(), agentRunOutput{
			Agent:      agentID,
			Response:   result.Response,
			Model:      result.Model,
			Iterations: result.Iterations,
			ToolCalls:  len(result.ToolExecutions),
			Tokens:     result.Usage.TotalTokens,
			DurationMs: result.Duration.Milliseconds(),
			Session:    opts.session,
		})
	}

	if opts.stream {
		cmd.Println()
	} else {
		cmd.Println(result.Response)
	}

	if !opts.quiet {
		cmd.Println()
		cmd.Println(shared.Muted.Render(fmt.Sprintf(
			"%s | %d iterations | %d tool calls | %d tokens | %s",
			result.Model, result.Iterations, len(result.ToolExecutions),
			result.Usage.TotalTokens, result.Duration.Round(timeRounding))))
	}
	return nil
}
