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

// Package auth implements the auth subcommands: storing provider API
// keys in the OS keyring and showing where each provider's credentials
// come from.
package auth

import (
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steward-project/steward/internal/commands/shared"
	"github.com/steward-project/steward/pkg/llm"
)

// NewCommand creates the auth command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider credentials",
		Long: `Auth stores LLM provider API keys in the operating system keyring.

Environment variables take precedence over the keyring: ANTHROPIC_API_KEY
and OPENAI_API_KEY override stored keys, and OLLAMA_HOST points at a
local Ollama server (no key needed).`,
	}
	cmd.AddCommand(newSetCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newRemoveCommand())
	return cmd
}

func newSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <provider>",
		Short: "Store an API key in the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])

			key, err := readAPIKey()
			if err != nil {
				return shared.NewInvalidInputError("reading API key", err)
			}
			if key == "" {
				return shared.NewInvalidInputError("API key must not be empty", nil)
			}

			if err := llm.StoreCredential(provider, key); err != nil {
				return shared.NewExecutionError("storing credential", err)
			}
			cmd.Println(shared.RenderOK("stored API key for " + provider))
			return nil
		},
	}
}

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show where each provider's credentials come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := llm.DefaultRegistry().Factories()

			if shared.GetJSON() {
				sources := make(map[string]string, len(providers))
				for _, provider := range providers {
					sources[provider] = llm.CredentialSource(provider)
				}
				return shared.PrintJSON(cmd.OutOrStdout(), sources)
			}

			for _, provider := range providers {
				source := llm.CredentialSource(provider)
				switch source {
				case "none":
					cmd.Printf("%-12s %s\n", provider, shared.Muted.Render("not configured"))
				default:
					cmd.Printf("%-12s %s\n", provider, shared.RenderOK(source))
				}
			}
			return nil
		},
	}
}

func newRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <provider>",
		Short: "Remove a stored API key from the OS keyring",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := strings.ToLower(args[0])
			if err := llm.DeleteCredential(provider); err != nil {
				return shared.NewExecutionError("removing credential", err)
			}
			cmd.Println(shared.RenderOK("removed API key for " + provider))
			return nil
		},
	}
}

// readAPIKey reads the key from a pipe when stdin is not a terminal,
// otherwise prompts with hidden input.
func readAPIKey() (string, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}

	if (stat.Mode() & os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}

	fmt.Print("Enter API key (hidden): ")
	key, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(key)), nil
}
