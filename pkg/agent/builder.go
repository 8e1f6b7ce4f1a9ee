package agent

import (
	"context"
	"log/slog"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/llm"
	"github.com/steward-project/steward/pkg/mcptools"
	"github.com/steward-project/steward/pkg/tools"
)

// Builder assembles an Agent step by step. Wiring order does not matter;
// Build validates the result.
type Builder struct {
	config     Config
	provider   llm.Provider
	caller     mcptools.ToolCaller
	source     *mcptools.FilteredToolSource
	additional []tools.Tool
	history    HistoryStore
	logger     *slog.Logger
	err        error
}

// NewBuilder starts building an agent with the given ID.
func NewBuilder(id string) *Builder {
	return &Builder{config: Config{ID: id}}
}

// NewBuilderFromConfig starts from an existing configuration.
func NewBuilderFromConfig(config Config) *Builder {
	return &Builder{config: config}
}

// WithName sets the display name.
func (b *Builder) WithName(name string) *Builder {
	b.config.Name = name
	return b
}

// WithDescription sets the one-line summary.
func (b *Builder) WithDescription(description string) *Builder {
	b.config.Description = description
	return b
}

// WithInstructions sets the system prompt.
func (b *Builder) WithInstructions(instructions string) *Builder {
	b.config.Instructions = instructions
	return b
}

// WithModel sets the "provider:model_id" reference.
func (b *Builder) WithModel(model string) *Builder {
	b.config.Model = model
	return b
}

// WithToolsets restricts the agent to MCP tools annotated with any of the
// given toolset names.
func (b *Builder) WithToolsets(toolsets ...string) *Builder {
	b.config.Filter.Toolsets = append(b.config.Filter.Toolsets, toolsets...)
	return b
}

// WithFilter replaces the tool filter wholesale.
func (b *Builder) WithFilter(filter mcptools.Filter) *Builder {
	b.config.Filter = filter
	return b
}

// WithToolSource sets a prebuilt MCP tool source. The source's own filter
// applies; the agent config filter is ignored.
func (b *Builder) WithToolSource(source *mcptools.FilteredToolSource) *Builder {
	b.source = source
	return b
}

// WithToolCaller wires an MCP client. Build constructs a filtered source
// from it using the agent's configured filter.
func (b *Builder) WithToolCaller(caller mcptools.ToolCaller) *Builder {
	b.caller = caller
	return b
}

// WithAdditionalTools adds local tools alongside the discovered MCP tools.
func (b *Builder) WithAdditionalTools(extra ...tools.Tool) *Builder {
	b.additional = append(b.additional, extra...)
	return b
}

// WithHistory enables history replay backed by the given store.
func (b *Builder) WithHistory(store HistoryStore, config HistoryConfig) *Builder {
	b.history = store
	b.config.History = config
	return b
}

// WithProvider sets the LLM provider.
func (b *Builder) WithProvider(provider llm.Provider) *Builder {
	b.provider = provider
	return b
}

// WithMaxIterations bounds the tool-call loop.
func (b *Builder) WithMaxIterations(max int) *Builder {
	b.config.MaxIterations = max
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, discovers tools from the source, and
// returns the assembled agent. Discovery uses the provided context so
// startup can be bounded.
func (b *Builder) Build(ctx context.Context) (*Agent, error) {
	if b.err != nil {
		return nil, b.err
	}
	config := b.config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if b.provider == nil {
		return nil, &errors.ValidationError{
			Field:      "provider",
			Message:    "agent requires an LLM provider",
			Suggestion: "call WithProvider before Build",
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	if b.source == nil && b.caller != nil {
		b.source = mcptools.NewFilteredToolSource(b.caller, config.Filter, logger)
	}

	registry := tools.NewRegistry()
	if b.source != nil {
		discovered, err := b.source.Discover(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "discovering tools for agent %s", config.ID)
		}
		for _, tool := range discovered {
			if err := registry.Register(tool); err != nil {
				return nil, err
			}
		}
	}
	for _, tool := range b.additional {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}

	return &Agent{
		config:   config,
		provider: b.provider,
		registry: registry,
		history:  b.history,
		context:  NewContextManager(defaultContextTokens),
		logger:   logger,
	}, nil
}
