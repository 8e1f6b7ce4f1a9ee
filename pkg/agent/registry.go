package agent

import (
	"sort"
	"sync"

	"github.com/steward-project/steward/pkg/errors"
)

// Registry holds the agent configurations known to the process. Agents are
// registered declaratively at init time and built on demand.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]Config)}
}

var defaultAgentRegistry = NewRegistry()

// Register adds an agent configuration. Duplicate IDs are rejected.
func (r *Registry) Register(config Config) error {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.configs[config.ID]; exists {
		return &errors.ValidationError{
			Field:   "id",
			Message: "agent already registered: " + config.ID,
		}
	}
	r.configs[config.ID] = config
	return nil
}

// Get returns a registered agent configuration.
func (r *Registry) Get(id string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[id]
	if !ok {
		return Config{}, &errors.NotFoundError{Resource: "agent", ID: id}
	}
	return config, nil
}

// List returns all registered configurations sorted by ID.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	configs := make([]Config, 0, len(r.configs))
	for _, config := range r.configs {
		configs = append(configs, config)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].ID < configs[j].ID })
	return configs
}

// IDs returns the registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.configs))
	for id := range r.configs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Register adds an agent configuration to the process-wide registry.
func Register(config Config) error {
	return defaultAgentRegistry.Register(config)
}

// Lookup returns a configuration from the process-wide registry.
func Lookup(id string) (Config, error) {
	return defaultAgentRegistry.Get(id)
}

// All returns all configurations from the process-wide registry.
func All() []Config {
	return defaultAgentRegistry.List()
}
