// Package tools defines the tool abstraction shared by agents and
// workflow steps.
//
// A tool is a discrete operation an LLM can invoke: most tools in this
// system wrap operations advertised by an IBM i MCP server, but agents
// can also carry locally implemented tools. Each tool has a name, a
// description, a JSON Schema for its arguments, and an execution
// function.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/steward-project/steward/pkg/errors"
)

// Tool represents an executable tool available to an agent.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// InputSchema returns the JSON Schema describing the tool's arguments
	InputSchema() json.RawMessage

	// Execute runs the tool with the given arguments and returns its output
	Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Registry maintains a collection of tools keyed by name.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
// Returns a ValidationError if a tool with the same name is already registered.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return &errors.ValidationError{
			Field:   "tool",
			Message: "tool must not be nil",
		}
	}
	if tool.Name() == "" {
		return &errors.ValidationError{
			Field:   "tool.name",
			Message: "tool name must not be empty",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name()]; exists {
		return &errors.ValidationError{
			Field:      "tool.name",
			Message:    "tool already registered: " + tool.Name(),
			Suggestion: "tool names must be unique within an agent",
		}
	}

	r.tools[tool.Name()] = tool
	return nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{Resource: "tool", ID: name}
	}
	return tool, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		list = append(list, tool)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name() < list[j].Name()
	})
	return list
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// FuncTool adapts a plain function into a Tool.
// It is the simplest way to register locally implemented tools.
type FuncTool struct {
	ToolName        string
	ToolDescription string
	Schema          json.RawMessage
	Fn              func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)
}

// Name implements Tool.
func (t *FuncTool) Name() string { return t.ToolName }

// Description implements Tool.
func (t *FuncTool) Description() string { return t.ToolDescription }

// InputSchema implements Tool.
func (t *FuncTool) InputSchema() json.RawMessage { return t.Schema }

// Execute implements Tool.
func (t *FuncTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return t.Fn(ctx, args)
}
