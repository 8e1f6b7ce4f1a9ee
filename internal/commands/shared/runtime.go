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

package shared

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/steward-project/steward/internal/config"
	"github.com/steward-project/steward/internal/log"
	"github.com/steward-project/steward/internal/storage"
	"github.com/steward-project/steward/pkg/agent"
	"github.com/steward-project/steward/pkg/llm"
	_ "github.com/steward-project/steward/pkg/llm/providers" // register provider factories
	"github.com/steward-project/steward/pkg/mcptools"
)

// Runtime is the composition root for subcommands: configuration, the
// logger, and lazily constructed connections to the MCP server, the LLM
// provider, and the local run store.
type Runtime struct {
	Config *config.Config
	Logger *slog.Logger

	mu        sync.Mutex
	client    *mcptools.Client
	store     *storage.Store
	providers map[string]llm.Provider
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".steward", "config.yaml"), nil
}

// NewRuntime loads configuration and builds the logger. The config file
// comes from the --config flag, falling back to ~/.steward/config.yaml
// when that file exists.
func NewRuntime() (*Runtime, error) {
	logCfg := log.FromEnv()
	if GetDebug() {
		logCfg.Level = "debug"
	}
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	path := GetConfigPath()
	if path == "" {
		if def, err := DefaultConfigPath(); err == nil {
			if _, err := os.Stat(def); err == nil {
				path = def
			}
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, NewInvalidInputError("loading configuration", err)
	}

	return &Runtime{
		Config:    cfg,
		Logger:    logger,
		providers: make(map[string]llm.Provider),
	}, nil
}

// Client connects to the configured MCP server, reusing the connection
// across calls.
func (r *Runtime) Client(ctx context.Context) (*mcptools.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	clientConfig, err := r.Config.ClientConfig()
	if err != nil {
		return nil, NewInvalidInputError("mcp configuration", err)
	}
	clientConfig.Logger = r.Logger

	client, err := mcptools.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, NewConnectionError("connecting to MCP server", err)
	}
	r.client = client
	return client, nil
}

// Store opens the local run store, reusing it across calls.
func (r *Runtime) Store() (*storage.Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.store != nil {
		return r.store, nil
	}
	store, err := storage.OpenDefault()
	if err != nil {
		return nil, NewExecutionError("opening run store", err)
	}
	r.store = store
	return store, nil
}

// Provider activates the provider named by the model reference, resolves
// its credentials, and wraps it with retry. Activated providers are
// cached by name.
func (r *Runtime) Provider(modelRef string) (llm.Provider, error) {
	ref, err := llm.ParseModel(modelRef)
	if err != nil {
		return nil, NewInvalidInputError("model reference", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[ref.Provider]; ok {
		return p, nil
	}

	creds, err := llm.ResolveCredentials(ref.Provider)
	if err != nil {
		return nil, NewProviderError("resolving credentials for "+ref.Provider, err)
	}
	provider, err := llm.Activate(ref.Provider, creds)
	if err != nil {
		return nil, NewProviderError("activating provider "+ref.Provider, err)
	}

	wrapped := llm.NewRetryableProvider(provider, llm.DefaultRetryConfig(), nil)
	r.providers[ref.Provider] = wrapped
	return wrapped, nil
}

// AgentOptions adjust how BuildAgent assembles an agent.
type AgentOptions struct {
	// Model overrides every configured model when non-empty (CLI flag).
	Model string

	// SessionID enables history replay and persistence when non-empty.
	SessionID string
}

// BuildAgent assembles a registered agent: merges configuration
// overrides, activates the provider, connects the MCP tool source, and
// wires history when a session is set.
//
// Model precedence: --model flag, per-agent config override, the agent's
// declared model, then the global default.
func (r *Runtime) BuildAgent(ctx context.Context, agentID string, opts AgentOptions) (*agent.Agent, error) {
	agentConfig, err := agent.Lookup(agentID)
	if err != nil {
		return nil, err
	}
	settings := r.Config.ForAgent(agentID)

	model := firstNonEmpty(opts.Model, overrideModel(r.Config, agentID), agentConfig.Model, r.Config.Model)
	agentConfig.Model = model

	if len(settings.Toolsets) > 0 {
		agentConfig.Filter.Toolsets = settings.Toolsets
	}
	if settings.ExtraInstructions != "" {
		agentConfig.Instructions = strings.TrimSpace(agentConfig.Instructions) +
			"\n\n" + settings.ExtraInstructions
	}
	if settings.MaxIterations > 0 {
		agentConfig.MaxIterations = settings.MaxIterations
	}

	provider, err := r.Provider(model)
	if err != nil {
		return nil, err
	}
	client, err := r.Client(ctx)
	if err != nil {
		return nil, err
	}

	source := mcptools.NewFilteredToolSource(client, agentConfig.Filter, r.Logger)
	builder := agent.NewBuilderFromConfig(agentConfig).
		WithProvider(provider).
		WithToolSource(source).
		WithLogger(r.Logger)

	if opts.SessionID != "" {
		store, err := r.Store()
		if err != nil {
			return nil, err
		}
		builder = builder.WithHistory(store, agentConfig.History)
	}

	built, err := builder.Build(ctx)
	if err != nil {
		return nil, err
	}

	if r.Config.DebugFiltering {
		if result := source.LastResult(); result != nil {
			fmt.Fprintf(os.Stderr, "tool filtering for %s:\n%s", agentID, result.Summary())
		}
	}
	return built, nil
}

// overrideModel returns the per-agent model override, or "".
func overrideModel(cfg *config.Config, agentID string) string {
	if override, ok := cfg.Agents[agentID]; ok {
		return override.Model
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Close releases the runtime's connections.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.Logger.Warn("closing MCP client", "error", err)
		}
		r.client = nil
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.Logger.Warn("closing run store", "error", err)
		}
		r.store = nil
	}
}
