package agent

import (
	"strings"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/mcptools"
)

// DefaultMaxIterations bounds the tool-call loop for a single run.
const DefaultMaxIterations = 20

// Config describes an agent: its identity, behavior, and the tools it may
// reach.
type Config struct {
	// ID is the kebab-case agent identifier (e.g. "sysadmin-discovery").
	ID string `yaml:"id"`

	// Name is the human-readable agent name.
	Name string `yaml:"name"`

	// Description is a one-line summary shown in listings.
	Description string `yaml:"description"`

	// Category groups related agents in listings (e.g. "performance").
	Category string `yaml:"category,omitempty"`

	// Tags are free-form labels for discovery.
	Tags []string `yaml:"tags,omitempty"`

	// Instructions is the system prompt.
	Instructions string `yaml:"instructions"`

	// Model is a "provider:model_id" reference. Empty uses the run default.
	Model string `yaml:"model,omitempty"`

	// Filter selects which discovered MCP tools this agent may use.
	Filter mcptools.Filter `yaml:"filter,omitempty"`

	// History controls how much prior conversation is replayed into context.
	History HistoryConfig `yaml:"history,omitempty"`

	// MaxIterations bounds the tool-call loop. Zero uses the default.
	MaxIterations int `yaml:"max_iterations,omitempty"`
}

// HistoryConfig controls conversation history replay.
type HistoryConfig struct {
	// Enabled turns history replay on.
	Enabled bool `yaml:"enabled"`

	// Runs is the number of recent runs to replay per session.
	Runs int `yaml:"runs,omitempty"`

	// Sessions is the number of recent sessions to draw runs from.
	Sessions int `yaml:"sessions,omitempty"`
}

// DefaultHistoryConfig replays the last three runs across two sessions.
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{Enabled: true, Runs: 3, Sessions: 2}
}

// WithDefaults fills in zero values.
func (h HistoryConfig) WithDefaults() HistoryConfig {
	result := h
	if result.Runs == 0 {
		result.Runs = 3
	}
	if result.Sessions == 0 {
		result.Sessions = 2
	}
	return result
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return &errors.ValidationError{
			Field:   "id",
			Message: "agent ID cannot be empty",
		}
	}
	if strings.ContainsAny(c.ID, " \t\n") || c.ID != strings.ToLower(c.ID) {
		return &errors.ValidationError{
			Field:      "id",
			Message:    "agent ID must be lowercase with no whitespace",
			Suggestion: "use kebab-case, e.g. sysadmin-discovery",
		}
	}
	if strings.TrimSpace(c.Instructions) == "" {
		return &errors.ValidationError{
			Field:   "instructions",
			Message: "agent instructions cannot be empty",
		}
	}
	if c.Model != "" {
		if !strings.Contains(c.Model, ":") {
			return &errors.ValidationError{
				Field:      "model",
				Message:    "model must have the form provider:model_id",
				Suggestion: "e.g. anthropic:claude-sonnet-4-5",
			}
		}
	}
	return nil
}

// WithDefaults fills in zero values.
func (c Config) WithDefaults() Config {
	result := c
	if result.Name == "" {
		result.Name = result.ID
	}
	if result.MaxIterations == 0 {
		result.MaxIterations = DefaultMaxIterations
	}
	result.History = result.History.WithDefaults()
	return result
}
