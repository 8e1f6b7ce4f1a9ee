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
	"sort"
	"sync"

	"github.com/steward-project/steward/pkg/errors"
)

// ProviderFactory constructs a provider from resolved credentials.
type ProviderFactory func(creds Credentials) (Provider, error)

// Registry holds provider factories and the providers activated from them.
// Registration happens at init time; activation happens once credentials
// are resolved at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	active    map[string]Provider
	defaultID string
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		active:    make(map[string]Provider),
	}
}

// defaultRegistry is the process-wide registry used by the package-level
// functions below.
var defaultRegistry = NewRegistry()

// RegisterFactory registers a provider factory under the given name.
// It is intended to be called from provider package init functions.
func (r *Registry) RegisterFactory(name string, factory ProviderFactory) error {
	if name == "" {
		return &errors.ValidationError{
			Field:   "name",
			Message: "provider name cannot be empty",
		}
	}
	if factory == nil {
		return &errors.ValidationError{
			Field:   "factory",
			Message: "provider factory cannot be nil",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return &errors.ValidationError{
			Field:      "name",
			Message:    "provider factory already registered: " + name,
			Suggestion: "each provider may only register once",
		}
	}
	r.factories[name] = factory
	return nil
}

// Activate constructs the named provider from credentials and makes it
// available via Get. Activating the same name again replaces the provider.
func (r *Registry) Activate(name string, creds Credentials) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &errors.NotFoundError{Resource: "provider factory", ID: name}
	}

	provider, err := factory(creds)
	if err != nil {
		return nil, errors.Wrapf(err, "activating provider %s", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[name] = provider
	if r.defaultID == "" {
		r.defaultID = name
	}
	return provider, nil
}

// Get returns an activated provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.active[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "provider", ID: name}
	}
	return provider, nil
}

// Default returns the default provider. It is the first provider activated
// unless SetDefault was called.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultID == "" {
		return nil, &errors.NotFoundError{Resource: "provider", ID: "default"}
	}
	return r.active[r.defaultID], nil
}

// SetDefault marks an activated provider as the default.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[name]; !ok {
		return &errors.NotFoundError{Resource: "provider", ID: name}
	}
	r.defaultID = name
	return nil
}

// Factories returns the names of registered factories, sorted.
func (r *Registry) Factories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Active returns the names of activated providers, sorted.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.active))
	for name := range r.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterFactory registers a factory with the process-wide registry.
func RegisterFactory(name string, factory ProviderFactory) error {
	return defaultRegistry.RegisterFactory(name, factory)
}

// Activate activates a provider in the process-wide registry.
func Activate(name string, creds Credentials) (Provider, error) {
	return defaultRegistry.Activate(name, creds)
}

// Get returns an activated provider from the process-wide registry.
func Get(name string) (Provider, error) {
	return defaultRegistry.Get(name)
}

// Default returns the process-wide default provider.
func Default() (Provider, error) {
	return defaultRegistry.Default()
}

// DefaultRegistry exposes the process-wide registry.
func DefaultRegistry() *Registry {
	return defaultRegistry
}
