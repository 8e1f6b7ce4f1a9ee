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

// Package tools implements the tools subcommands: listing the MCP
// server's tools with their toolsets annotations and calling one tool
// directly for troubleshooting.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"

	"github.com/steward-project/steward/internal/commands/shared"
	"github.com/steward-project/steward/pkg/mcptools"
)

// NewCommand creates the tools command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call MCP tools",
	}
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newCallCommand())
	return cmd
}

// listEntry is the JSON shape for one tool listing row.
type listEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Toolsets    []string `json:"toolsets,omitempty"`
}

func newListCommand() *cobra.Command {
	var (
		toolsets       []string
		debugFiltering bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools advertised by the MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			runtime, err := shared.NewRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()

			client, err := runtime.Client(cmd.Context())
			if err != nil {
				return err
			}
			defs, err := client.ListTools(cmd.Context())
			if err != nil {
				return shared.NewConnectionError("listing tools", err)
			}

			filter := mcptools.Filter{Toolsets: toolsets}
			result := mcptools.ApplyFilter(defs, filter)

			if debugFiltering {
				fmt.Fprint(cmd.ErrOrStderr(), result.Summary())
			}

			if shared.GetJSON() {
				entries := make([]listEntry, len(result.Selected))
				for i, def := range result.Selected {
					entries[i] = listEntry{
						Name:        def.Name,
						Description: def.Description,
						Toolsets:    def.Toolsets(),
					}
				}
				return shared.PrintJSON(cmd.OutOrStdout(), entries)
			}

			for _, def := range result.Selected {
				sets := strings.Join(def.Toolsets(), ",")
				if sets == "" {
					sets = "-"
				}
				cmd.Printf("%-40s %-28s %s\n",
					shared.Bold.Render(def.Name),
					shared.Muted.Render(sets),
					oneLine(def.Description, 60))
			}
			if !shared.GetQuiet() {
				cmd.Println()
				cmd.Println(shared.Muted.Render(fmt.Sprintf(
					"%d of %d tools shown (%s)",
					len(result.Selected), len(defs), client.Endpoint())))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&toolsets, "toolset", nil, "Only show tools in these toolsets")
	cmd.Flags().BoolVar(&debugFiltering, "debug-filtering", false, "Print the per-tool filter decision trace")
	return cmd
}

func newCallCommand() *cobra.Command {
	var (
		argPairs []string
		jsonArgs string
		query    string
	)

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call one MCP tool directly",
		Long: `Call executes a single MCP tool and prints its result. Arguments come
from repeated --arg key=value pairs or a --json-args object; --query runs
a jq expression over the result.

Examples:
  steward tools call system_status
  steward tools call active_job_info --arg subsystem=QBATCH
  steward tools call system_status --query '.content[0]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			arguments, err := buildArguments(argPairs, jsonArgs)
			if err != nil {
				return shared.NewInvalidInputError("tool arguments", err)
			}

			runtime, err := shared.NewRuntime()
			if err != nil {
				return err
			}
			defer runtime.Close()

			client, err := runtime.Client(cmd.Context())
			if err != nil {
				return err
			}

			response, err := client.CallTool(cmd.Context(), mcptools.ToolCallRequest{
				Name:      args[0],
				Arguments: arguments,
			})
			if err != nil {
				return shared.NewExecutionError("tool call failed", err)
			}

			return printResponse(cmd, response, query)
		},
	}

	cmd.Flags().StringSliceVar(&argPairs, "arg", nil, "Tool argument as key=value (repeatable)")
	cmd.Flags().StringVar(&jsonArgs, "json-args", "", "Tool arguments as a JSON object")
	cmd.Flags().StringVar(&query, "query", "", "jq expression applied to the result")
	return cmd
}

// buildArguments merges --json-args and --arg values; --arg wins on
// conflicting keys.
func buildArguments(pairs []string, jsonArgs string) (map[string]interface{}, error) {
	arguments := make(map[string]interface{})
	if jsonArgs != "" {
		if err := json.Unmarshal([]byte(jsonArgs), &arguments); err != nil {
			return nil, fmt.Errorf("invalid --json-args: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q, expected key=value", pair)
		}
		arguments[key] = value
	}
	if len(arguments) == 0 {
		return nil, nil
	}
	return arguments, nil
}

// responseJSON shapes a tool result for JSON output and jq queries.
func responseJSON(response *mcptools.ToolCallResponse) interface{} {
	return struct {
		Content []mcptools.ContentItem `json:"content"`
		IsError bool                   `json:"isError"`
	}{Content: response.Content, IsError: response.IsError}
}

// printResponse renders a tool result, optionally transformed by a jq
// expression.
func printResponse(cmd *cobra.Command, response *mcptools.ToolCallResponse, query string) error {
	if query == "" {
		if shared.GetJSON() {
			return shared.PrintJSON(cmd.OutOrStdout(), responseJSON(response))
		}
		if response.IsError {
			cmd.Println(shared.RenderError("tool reported an error"))
		}
		cmd.Println(response.TextContent())
		return nil
	}

	value, err := applyQuery(response, query)
	if err != nil {
		return shared.NewInvalidInputError("query", err)
	}
	return shared.PrintJSON(cmd.OutOrStdout(), value)
}

// applyQuery runs a jq expression over the response rendered as JSON.
func applyQuery(response *mcptools.ToolCallResponse, query string) (interface{}, error) {
	parsed, err := gojq.Parse(query)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	code, err := gojq.Compile(parsed)
	if err != nil {
		return nil, fmt.Errorf("compile error: %w", err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(responseJSON(response))
	if err != nil {
		return nil, err
	}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}

	var results []interface{}
	iter := code.Run(data)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if queryErr, isErr := v.(error); isErr {
			return nil, queryErr
		}
		results = append(results, v)
	}
	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// oneLine flattens and bounds a description for table display.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}
