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

// Package workflows implements the workflows subcommands: listing the
// built-in and user-defined workflows and showing a workflow's step graph.
package workflows

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/steward-project/steward/internal/commands/shared"
	builtin "github.com/steward-project/steward/internal/workflows"
	stewarderrors "github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/workflow"
)

// UserDir returns the directory scanned for user-defined workflows.
func UserDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".steward", "workflows"), nil
}

// DiscoverUser scans the user workflow directory and returns workflow
// file paths keyed by workflow name. A missing directory is not an error.
func DiscoverUser() (map[string]string, error) {
	dir, err := UserDir()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.{yaml,yml}")
	if err != nil {
		return nil, err
	}

	found := make(map[string]string, len(matches))
	for _, match := range matches {
		path := filepath.Join(dir, match)
		def, err := workflow.LoadDefinition(path)
		if err != nil {
			// A broken file should not hide the rest of the directory.
			continue
		}
		if _, exists := found[def.Name]; !exists {
			found[def.Name] = path
		}
	}
	return found, nil
}

// Resolve locates a workflow by reference: an explicit YAML file path, a
// built-in name, or a user-defined workflow name.
func Resolve(ref string) (*workflow.Definition, error) {
	if strings.HasSuffix(ref, ".yaml") || strings.HasSuffix(ref, ".yml") ||
		strings.ContainsRune(ref, os.PathSeparator) {
		return workflow.LoadDefinition(ref)
	}

	if def, err := builtin.Get(ref); err == nil {
		return def, nil
	}

	user, err := DiscoverUser()
	if err != nil {
		return nil, err
	}
	if path, ok := user[ref]; ok {
		return workflow.LoadDefinition(path)
	}
	return nil, &stewarderrors.NotFoundError{Resource: "workflow", ID: ref}
}

// NewCommand creates the workflows command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List and inspect workflows",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newShowCommand())
	return cmd
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and user-defined workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := builtin.BuiltIn()
			if err != nil {
				return err
			}
			user, err := DiscoverUser()
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return printListJSON(cmd, defs, user)
			}

			cmd.Println(shared.Header.Render("Built-in workflows"))
			for _, def := range defs {
				cmd.Printf("  %-28s %s\n", shared.Bold.Render(def.Name), def.Description)
			}
			if len(user) > 0 {
				names := make([]string, 0, len(user))
				for name := range user {
					names = append(names, name)
				}
				sort.Strings(names)

				cmd.Println()
				cmd.Println(shared.Header.Render("User workflows"))
				for _, name := range names {
					cmd.Printf("  %-28s %s\n", shared.Bold.Render(name), shared.Muted.Render(user[name]))
				}
			}
			return nil
		},
	}
}

func printListJSON(cmd *cobra.Command, defs []*workflow.Definition, user map[string]string) error {
	type entry struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Source      string `json:"source"`
		Path        string `json:"path,omitempty"`
	}
	entries := make([]entry, 0, len(defs)+len(user))
	for _, def := range defs {
		entries = append(entries, entry{Name: def.Name, Description: def.Description, Source: "builtin"})
	}
	names := make([]string, 0, len(user))
	for name := range user {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries = append(entries, entry{Name: name, Source: "user", Path: user[name]})
	}
	return shared.PrintJSON(cmd.OutOrStdout(), entries)
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <workflow>",
		Short: "Show a workflow's inputs and step graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := Resolve(args[0])
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.PrintJSON(cmd.OutOrStdout(), def)
			}

			cmd.Println(shared.Header.Render(def.Name))
			if def.Description != "" {
				cmd.Println(def.Description)
			}
			if len(def.Inputs) > 0 {
				cmd.Println()
				cmd.Println(shared.Bold.Render("Inputs:"))
				names := make([]string, 0, len(def.Inputs))
				for name := range def.Inputs {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					input := def.Inputs[name]
					required := ""
					if input.Required {
						required = " (required)"
					}
					cmd.Printf("  %s%s  %s\n", name, required, shared.Muted.Render(input.Description))
				}
			}
			cmd.Println()
			cmd.Println(shared.Bold.Render("Steps:"))
			printSteps(cmd, def.Steps, 1)
			return nil
		},
	}
}

// printSteps renders the step graph with nesting for parallel children
// and condition branches.
func printSteps(cmd *cobra.Command, steps []workflow.StepDefinition, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, step := range steps {
		switch step.Type {
		case workflow.StepTypeParallel:
			cmd.Printf("%s%s %s\n", indent, shared.Bold.Render(step.ID), shared.Muted.Render("(parallel)"))
			printSteps(cmd, step.Steps, depth+1)
		case workflow.StepTypeCondition:
			cmd.Printf("%s%s %s\n", indent, shared.Bold.Render(step.ID),
				shared.Muted.Render(fmt.Sprintf("(if %s)", step.Condition.Expression)))
			printSteps(cmd, step.Condition.Then, depth+1)
			if len(step.Condition.Else) > 0 {
				cmd.Printf("%s%s\n", indent, shared.Muted.Render("else:"))
				printSteps(cmd, step.Condition.Else, depth+1)
			}
		case workflow.StepTypeFunction:
			cmd.Printf("%s%s %s\n", indent, shared.Bold.Render(step.ID),
				shared.Muted.Render("(function "+step.Function+")"))
		default:
			cmd.Printf("%s%s %s\n", indent, shared.Bold.Render(step.ID),
				shared.Muted.Render("(agent "+step.Agent+")"))
		}
	}
}
