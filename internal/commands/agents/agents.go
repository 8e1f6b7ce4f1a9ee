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

// Package agents implements the agents subcommands: listing the
// registered agents and showing one agent's effective configuration.
package agents

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/steward-project/steward/internal/commands/shared"
	"github.com/steward-project/steward/pkg/agent"
)

// NewCommand creates the agents command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List and inspect agents",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

// listEntry is the JSON shape for one agent listing row.
type listEntry struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Toolsets    []string `json:"toolsets,omitempty"`
	Model       string   `json:"model,omitempty"`
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			configs := agent.All()

			if shared.GetJSON() {
				entries := make([]listEntry, len(configs))
				for i, c := range configs {
					entries[i] = listEntry{
						ID:          c.ID,
						Name:        c.Name,
						Description: c.Description,
						Category:    c.Category,
						Tags:        c.Tags,
						Toolsets:    c.Filter.Toolsets,
						Model:       c.Model,
					}
				}
				return shared.PrintJSON(cmd.OutOrStdout(), entries)
			}

			for _, c := range configs {
				toolsets := strings.Join(c.Filter.Toolsets, ",")
				if toolsets == "" {
					toolsets = "(all tools)"
				}
				cmd.Printf("%-22s %-24s %s\n",
					shared.Bold.Render(c.ID),
					shared.Muted.Render(toolsets),
					c.Description)
			}
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <agent>",
		Short: "Show an agent's effective configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := agent.Lookup(args[0])
			if err != nil {
				return err
			}

			runtime, err := shared.NewRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()

			settings := runtime.Config.ForAgent(config.ID)
			model := config.Model
			if model == "" {
				model = settings.Model
			}
			toolsets := config.Filter.Toolsets
			if len(settings.Toolsets) > 0 {
				toolsets = settings.Toolsets
			}

			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), struct {
					listEntry
					MaxIterations int    `json:"max_iterations"`
					History       bool   `json:"history"`
					Instructions  string `json:"instructions,omitempty"`
				}{
					listEntry: listEntry{
						ID:          config.ID,
						Name:        config.Name,
						Description: config.Description,
						Category:    config.Category,
						Tags:        config.Tags,
						Toolsets:    toolsets,
						Model:       model,
					},
					MaxIterations: config.MaxIterations,
					History:       config.History.Enabled,
					Instructions:  config.Instructions,
				})
			}

			cmd.Println(shared.Header.Render(config.Name))
			cmd.Printf("%s %s\n", shared.Muted.Render("id:"), config.ID)
			cmd.Printf("%s %s\n", shared.Muted.Render("model:"), model)
			cmd.Printf("%s %s\n", shared.Muted.Render("toolsets:"), strings.Join(toolsets, ", "))
			if config.Category != "" {
				cmd.Printf("%s %s\n", shared.Muted.Render("category:"), config.Category)
			}
			if len(config.Tags) > 0 {
				cmd.Printf("%s %s\n", shared.Muted.Render("tags:"), strings.Join(config.Tags, ", "))
			}
			cmd.Printf("%s %d\n", shared.Muted.Render("max iterations:"), config.MaxIterations)
			cmd.Printf("%s %v\n", shared.Muted.Render("history:"), config.History.Enabled)
			if config.Description != "" {
				cmd.Println()
				cmd.Println(config.Description)
			}
			if full {
				cmd.Println()
				cmd.Println(shared.Bold.Render("Instructions:"))
				cmd.Println(config.Instructions)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Include the agent's full instructions")
	return cmd
}
