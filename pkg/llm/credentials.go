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

package llm

import (
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/steward-project/steward/pkg/errors"
)

// keyringService is the service name credentials are stored under in the
// OS keyring.
const keyringService = "steward"

// Credentials authenticate a provider.
type Credentials interface {
	// ProviderType returns the provider these credentials are for.
	ProviderType() string

	// Validate checks the credentials are usable.
	Validate() error

	// Redacted returns a safe-to-log representation.
	Redacted() string
}

// APIKeyCredentials authenticate with a bearer API key.
type APIKeyCredentials struct {
	Provider string
	APIKey   string
}

func (c APIKeyCredentials) ProviderType() string { return c.Provider }

func (c APIKeyCredentials) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &errors.ValidationError{
			Field:      "api_key",
			Message:    "API key cannot be empty",
			Suggestion: "set the " + envVarFor(c.Provider) + " environment variable or run: steward auth set " + c.Provider,
		}
	}
	return nil
}

func (c APIKeyCredentials) Redacted() string {
	return c.Provider + ":" + maskSecret(c.APIKey)
}

// OllamaCredentials configure a local Ollama endpoint. Ollama does not
// authenticate, so only the base URL is carried.
type OllamaCredentials struct {
	BaseURL string
}

func (c OllamaCredentials) ProviderType() string { return "ollama" }
func (c OllamaCredentials) Validate() error      { return nil }
func (c OllamaCredentials) Redacted() string {
	if c.BaseURL == "" {
		return "ollama:default"
	}
	return "ollama:" + c.BaseURL
}

// maskSecret keeps the first and last four characters of a secret visible.
func maskSecret(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

// envVarFor returns the conventional environment variable for a provider's
// API key.
func envVarFor(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}

// ResolveCredentials resolves credentials for a provider. The environment
// variable wins; the OS keyring is the fallback. Ollama resolves to its
// base URL from OLLAMA_HOST and never requires a key.
func ResolveCredentials(provider string) (Credentials, error) {
	if provider == "ollama" {
		return OllamaCredentials{BaseURL: os.Getenv("OLLAMA_HOST")}, nil
	}

	if key := os.Getenv(envVarFor(provider)); key != "" {
		return APIKeyCredentials{Provider: provider, APIKey: key}, nil
	}

	key, err := keyring.Get(keyringService, provider)
	if err == nil && key != "" {
		return APIKeyCredentials{Provider: provider, APIKey: key}, nil
	}

	return nil, &errors.ConfigError{
		Key:    provider,
		Reason: "no credentials found in environment or keyring",
		Cause:  err,
	}
}

// StoreCredential saves an API key for a provider in the OS keyring.
func StoreCredential(provider, apiKey string) error {
	if strings.TrimSpace(apiKey) == "" {
		return &errors.ValidationError{
			Field:   "api_key",
			Message: "API key cannot be empty",
		}
	}
	if err := keyring.Set(keyringService, provider, apiKey); err != nil {
		return errors.Wrapf(err, "storing credential for %s", provider)
	}
	return nil
}

// DeleteCredential removes a provider's API key from the OS keyring.
func DeleteCredential(provider string) error {
	if err := keyring.Delete(keyringService, provider); err != nil {
		return errors.Wrapf(err, "deleting credential for %s", provider)
	}
	return nil
}

// CredentialSource reports where a provider's credentials would come from:
// "env", "keyring", or "none".
func CredentialSource(provider string) string {
	if provider == "ollama" {
		return "env"
	}
	if os.Getenv(envVarFor(provider)) != "" {
		return "env"
	}
	if key, err := keyring.Get(keyringService, provider); err == nil && key != "" {
		return "keyring"
	}
	return "none"
}
