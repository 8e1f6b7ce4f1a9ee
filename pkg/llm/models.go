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
	"strings"

	"github.com/steward-project/steward/pkg/errors"
)

// ModelTier groups models by capability/cost trade-off. Requests may name a
// tier instead of a concrete model ID and let the provider resolve it.
type ModelTier string

const (
	// TierFast selects cheap, low-latency models for simple tasks.
	TierFast ModelTier = "fast"

	// TierBalanced selects general-purpose models.
	TierBalanced ModelTier = "balanced"

	// TierStrategic selects the most capable models for complex reasoning.
	TierStrategic ModelTier = "strategic"
)

// ModelInfo describes a model a provider exposes.
type ModelInfo struct {
	// ID is the provider-specific model identifier.
	ID string

	// Name is the human-readable model name.
	Name string

	// Tier is the capability tier this model belongs to.
	Tier ModelTier

	// ContextWindow is the maximum context size in tokens.
	ContextWindow int

	// MaxOutputTokens is the maximum completion size in tokens.
	MaxOutputTokens int

	// SupportsTools reports whether the model can call tools.
	SupportsTools bool
}

// ModelRef is a parsed "provider:model" reference.
type ModelRef struct {
	Provider string
	Model    string
}

// String returns the canonical "provider:model" form.
func (r ModelRef) String() string {
	return r.Provider + ":" + r.Model
}

// ParseModel splits a "provider:model_id" reference. The model part may
// itself contain colons (Ollama tags like "llama3.1:8b"), so only the first
// colon separates provider from model.
func ParseModel(ref string) (ModelRef, error) {
	provider, model, found := strings.Cut(ref, ":")
	if !found || provider == "" || model == "" {
		return ModelRef{}, &errors.ValidationError{
			Field:      "model",
			Message:    "model reference must have the form provider:model_id",
			Suggestion: "use a reference like anthropic:claude-sonnet-4-5 or ollama:llama3.1:8b",
		}
	}
	return ModelRef{Provider: provider, Model: model}, nil
}

// GetModelByTier returns the first model in the given tier, or false if none.
func GetModelByTier(models []ModelInfo, tier ModelTier) (ModelInfo, bool) {
	for _, m := range models {
		if m.Tier == tier {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// GetModelByID returns the model with the given ID, or false if not listed.
func GetModelByID(models []ModelInfo, id string) (ModelInfo, bool) {
	for _, m := range models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelInfo{}, false
}
