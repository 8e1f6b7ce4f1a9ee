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

// Package config loads the run configuration: defaults, then a YAML file,
// then STEWARD_* environment variables, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/mcptools"
)

// Environment variables honored by loadFromEnv.
const (
	EnvModel          = "STEWARD_MODEL"
	EnvMCPURL         = "STEWARD_MCP_URL"
	EnvMCPTransport   = "STEWARD_MCP_TRANSPORT"
	EnvDebugFiltering = "STEWARD_DEBUG_FILTERING"
)

// Config is the full run configuration.
type Config struct {
	// Model is the default "provider:model_id" reference.
	Model string `yaml:"model"`

	// MCP configures the MCP server connection.
	MCP MCPConfig `yaml:"mcp"`

	// DebugFiltering logs the per-tool accept/reject trace during discovery.
	DebugFiltering bool `yaml:"debug_filtering"`

	// Agents holds per-agent overrides keyed by agent ID.
	Agents map[string]AgentOverride `yaml:"agents,omitempty"`
}

// MCPConfig describes how to reach the MCP server.
type MCPConfig struct {
	// URL is the server endpoint for http/sse transports.
	URL string `yaml:"url"`

	// Transport is one of http, sse, stdio.
	Transport string `yaml:"transport"`

	// Command and Args launch the server for the stdio transport.
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// AgentOverride adjusts a single agent's settings.
type AgentOverride struct {
	// Model overrides the default model for this agent.
	Model string `yaml:"model,omitempty"`

	// Toolsets replaces the agent's toolsets filter when non-empty.
	Toolsets []string `yaml:"toolsets,omitempty"`

	// Instructions appends extra instructions to the agent's system prompt.
	Instructions string `yaml:"instructions,omitempty"`

	// MaxIterations overrides the tool-call loop bound.
	MaxIterations int `yaml:"max_iterations,omitempty"`
}

// AgentSettings is the merged view the CLI uses to build one agent.
type AgentSettings struct {
	Model             string
	Toolsets          []string
	ExtraInstructions string
	MaxIterations     int
}

// Default returns the standard configuration.
func Default() *Config {
	return &Config{
		Model: "anthropic:claude-sonnet-4-5",
		MCP: MCPConfig{
			URL:       "http://localhost:3010/mcp",
			Transport: "http",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, &errors.ConfigError{
				Key:    "config_file",
				Reason: "failed to load " + path,
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// applyDefaults fills zero values so a minimal file still works.
func (c *Config) applyDefaults() {
	defaults := Default()
	if c.Model == "" {
		c.Model = defaults.Model
	}
	if c.MCP.Transport == "" {
		c.MCP.Transport = defaults.MCP.Transport
	}
	if c.MCP.URL == "" && c.MCP.Transport != "stdio" {
		c.MCP.URL = defaults.MCP.URL
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv(EnvModel); val != "" {
		c.Model = val
	}
	if val := os.Getenv(EnvMCPURL); val != "" {
		c.MCP.URL = val
	}
	if val := os.Getenv(EnvMCPTransport); val != "" {
		c.MCP.Transport = strings.ToLower(val)
	}
	if val := os.Getenv(EnvDebugFiltering); val != "" {
		c.DebugFiltering = val == "1" || strings.ToLower(val) == "true"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !strings.Contains(c.Model, ":") {
		return &errors.ConfigError{
			Key:    "model",
			Reason: "model must have the form provider:model_id",
		}
	}
	if _, err := mcptools.ParseTransport(c.MCP.Transport); err != nil {
		return &errors.ConfigError{
			Key:    "mcp.transport",
			Reason: "unsupported transport " + c.MCP.Transport,
			Cause:  err,
		}
	}
	if c.MCP.Transport == "stdio" {
		if c.MCP.Command == "" {
			return &errors.ConfigError{
				Key:    "mcp.command",
				Reason: "stdio transport requires a command",
			}
		}
	} else if c.MCP.URL == "" {
		return &errors.ConfigError{
			Key:    "mcp.url",
			Reason: "http and sse transports require a URL",
		}
	}
	for id, override := range c.Agents {
		if override.Model != "" && !strings.Contains(override.Model, ":") {
			return &errors.ConfigError{
				Key:    "agents." + id + ".model",
				Reason: "model must have the form provider:model_id",
			}
		}
	}
	return nil
}

// ForAgent merges the defaults with the per-agent override for id.
func (c *Config) ForAgent(id string) AgentSettings {
	settings := AgentSettings{Model: c.Model}
	override, ok := c.Agents[id]
	if !ok {
		return settings
	}
	if override.Model != "" {
		settings.Model = override.Model
	}
	settings.Toolsets = override.Toolsets
	settings.ExtraInstructions = override.Instructions
	settings.MaxIterations = override.MaxIterations
	return settings
}

// ClientConfig converts the MCP section into an mcptools client config.
func (c *Config) ClientConfig() (mcptools.ClientConfig, error) {
	transport, err := mcptools.ParseTransport(c.MCP.Transport)
	if err != nil {
		return mcptools.ClientConfig{}, err
	}
	return mcptools.ClientConfig{
		URL:       c.MCP.URL,
		Transport: transport,
		Command:   c.MCP.Command,
		Args:      c.MCP.Args,
	}, nil
}
