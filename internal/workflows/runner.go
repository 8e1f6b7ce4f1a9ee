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
	"log/slog"
	"sync"

	"github.com/steward-project/steward/internal/log"
	"github.com/steward-project/steward/pkg/agent"
	"github.com/steward-project/steward/pkg/workflow"
)

// AgentBuilder constructs a ready-to-run agent for the given agent ID.
// The CLI wires this to the agent registry, the configured provider, and
// the MCP tool source.
type AgentBuilder func(ctx context.Context, agentID string) (*agent.Agent, error)

// Runner bridges workflow agent steps to the agent layer. Agents are
// built lazily on first use and cached for the rest of the run, so a
// workflow that hits the same agent in several steps reuses one tool
// discovery.
type Runner struct {
	build     AgentBuilder
	sessionID string
	stream    func(agentID, delta string)
	logger    *slog.Logger

	mu     sync.Mutex
	agents map[string]*agent.Agent
}

// NewRunner creates a runner building agents with the given builder.
func NewRunner(build AgentBuilder) *Runner {
	return &Runner{
		build:  build,
		logger: slog.Default(),
		agents: make(map[string]*agent.Agent),
	}
}

// WithSession sets the session used to persist agent runs. Empty
// disables persistence.
func (r *Runner) WithSession(sessionID string) *Runner {
	r.sessionID = sessionID
	return r
}

// WithStream sets a handler receiving text deltas from agent steps.
func (r *Runner) WithStream(stream func(agentID, delta string)) *Runner {
	r.stream = stream
	return r
}

// WithLogger sets the runner's logger.
func (r *Runner) WithLogger(logger *slog.Logger) *Runner {
	r.logger = logger
	return r
}

// RunAgent implements workflow.AgentRunner.
func (r *Runner) RunAgent(ctx context.Context, agentID, prompt string) (workflow.StepOutput, error) {
	a, err := r.agentFor(ctx, agentID)
	if err != nil {
		return workflow.StepOutput{}, err
	}

	opts := agent.RunOptions{SessionID: r.sessionID}
	if r.stream != nil {
		opts.Stream = func(delta string) { r.stream(agentID, delta) }
	}

	result, err := a.Run(ctx, prompt, opts)
	if err != nil {
		return workflow.StepOutput{}, err
	}

	r.logger.Debug("workflow agent step finished",
		log.String(log.AgentIDKey, agentID),
		"iterations", result.Iterations,
		"tool_calls", len(result.ToolExecutions))

	return workflow.StepOutput{
		Text: result.Response,
		Metadata: workflow.OutputMetadata{
			Model: result.Model,
			Usage: &workflow.TokenUsage{
				InputTokens:  result.Usage.InputTokens,
				OutputTokens: result.Usage.OutputTokens,
				TotalTokens:  result.Usage.TotalTokens,
			},
		},
	}, nil
}

// agentFor returns the cached agent for the ID, building it on first use.
func (r *Runner) agentFor(ctx context.Context, agentID string) (*agent.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.agents[agentID]; ok {
		return a, nil
	}
	a, err := r.build(ctx, agentID)
	if err != nil {
		return nil, err
	}
	r.agents[agentID] = a
	return a, nil
}
