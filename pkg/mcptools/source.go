package mcptools

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/tools"
)

// ToolCaller is the subset of the MCP client used for tool discovery and
// execution. It exists so sources can be tested without a live server.
type ToolCaller interface {
	ListTools(ctx context.Context) ([]ToolDefinition, error)
	CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error)
	Endpoint() string
}

// FilteredToolSource binds an MCP client and an annotation filter.
// Discover lists the server's tools, applies the filter, and returns the
// selected tools adapted to the tools.Tool interface. The listing is
// cached; Refresh re-lists.
type FilteredToolSource struct {
	caller ToolCaller
	filter Filter
	logger *slog.Logger

	mu     sync.Mutex
	cached []tools.Tool
	last   *FilterResult
}

// NewFilteredToolSource creates a source over the given client and filter.
func NewFilteredToolSource(caller ToolCaller, filter Filter, logger *slog.Logger) *FilteredToolSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FilteredToolSource{
		caller: caller,
		filter: filter,
		logger: logger,
	}
}

// Discover returns the filtered tool set, listing from the server on
// first use and serving the cached selection afterwards.
func (s *FilteredToolSource) Discover(ctx context.Context) ([]tools.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil {
		return s.cached, nil
	}
	return s.discoverLocked(ctx)
}

// Refresh re-lists tools from the server and replaces the cached selection.
func (s *FilteredToolSource) Refresh(ctx context.Context) ([]tools.Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.discoverLocked(ctx)
}

func (s *FilteredToolSource) discoverLocked(ctx context.Context) ([]tools.Tool, error) {
	defs, err := s.caller.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "discovering tools")
	}

	result := ApplyFilter(defs, s.filter)

	s.logger.Info("tool discovery completed",
		"server", s.caller.Endpoint(),
		"advertised", len(defs),
		"selected", len(result.Selected))

	selected := make([]tools.Tool, len(result.Selected))
	for i, def := range result.Selected {
		selected[i] = &MCPTool{def: def, caller: s.caller}
	}

	s.cached = selected
	s.last = &result
	return selected, nil
}

// LastResult returns the decision trace from the most recent discovery,
// or nil if Discover has not run yet. Used by the filtering debug output.
func (s *FilteredToolSource) LastResult() *FilterResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// MCPTool adapts a discovered tool definition to the tools.Tool interface.
type MCPTool struct {
	def    ToolDefinition
	caller ToolCaller
}

// Name implements tools.Tool.
func (t *MCPTool) Name() string {
	return t.def.Name
}

// Description implements tools.Tool.
func (t *MCPTool) Description() string {
	return t.def.Description
}

// InputSchema implements tools.Tool.
func (t *MCPTool) InputSchema() json.RawMessage {
	return t.def.InputSchema
}

// Definition returns the underlying tool definition.
func (t *MCPTool) Definition() ToolDefinition {
	return t.def
}

// Execute implements tools.Tool by invoking the tool on the MCP server.
//
// Result shaping: a single text content item that parses as a JSON object
// becomes that object (IBM i MCP servers return {success, data, metadata}
// envelopes); other single text items become {"result": text}; multiple
// content items become {"content": [...]}.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	resp, err := t.caller.CallTool(ctx, ToolCallRequest{
		Name:      t.def.Name,
		Arguments: args,
	})
	if err != nil {
		return nil, err
	}

	if resp.IsError {
		return nil, &errors.ToolError{
			Tool:    t.def.Name,
			Server:  t.caller.Endpoint(),
			Message: resp.TextContent(),
		}
	}

	if len(resp.Content) == 1 && resp.Content[0].Type == "text" {
		text := resp.Content[0].Text
		var obj map[string]interface{}
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			return obj, nil
		}
		return map[string]interface{}{"result": text}, nil
	}

	items := make([]interface{}, len(resp.Content))
	for i, item := range resp.Content {
		items[i] = item
	}
	return map[string]interface{}{"content": items}, nil
}
