// Package mcptools discovers tools from an IBM i MCP server and selects
// the subset an agent is allowed to use, based on declarative annotation
// filters. Discovery and execution ride on the MCP client; this package
// owns the filtering model and the adaptation of MCP tools to the
// tools.Tool interface.
package mcptools

import (
	"encoding/json"
	"fmt"
)

// AnnotationToolsets is the annotation key IBM i MCP servers use to tag
// tools with the toolsets they belong to.
const AnnotationToolsets = "toolsets"

// ToolDefinition describes a tool advertised by an MCP server.
type ToolDefinition struct {
	// Name is the tool's unique identifier on the server.
	Name string `json:"name"`

	// Description is the human-readable description of the tool.
	Description string `json:"description"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	// Annotations holds the tool's annotation values, including custom
	// keys like "toolsets" that the typed protocol structs do not model.
	Annotations map[string]interface{} `json:"annotations,omitempty"`
}

// Toolsets returns the tool's toolsets annotation normalized to a string
// slice. The annotation may be a single string or a list of strings; any
// other shape returns nil.
func (t ToolDefinition) Toolsets() []string {
	return annotationStrings(t.Annotations[AnnotationToolsets])
}

// annotationStrings normalizes an annotation value to a string slice.
// Scalars become a one-element slice; lists keep their string elements.
func annotationStrings(value interface{}) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// ToolCallRequest represents a request to execute a tool.
type ToolCallRequest struct {
	// Name is the tool to execute.
	Name string

	// Arguments are the tool arguments, matching the tool's input schema.
	Arguments map[string]interface{}
}

// ToolCallResponse represents the result of a tool execution.
type ToolCallResponse struct {
	// Content holds the result content items.
	Content []ContentItem

	// IsError indicates the server reported the call as failed.
	IsError bool
}

// ContentItem is a single piece of tool result content.
type ContentItem struct {
	// Type is the content type ("text", "image", "resource").
	Type string `json:"type"`

	// Text is the content for text items.
	Text string `json:"text,omitempty"`

	// Data is base64-encoded content for binary items.
	Data string `json:"data,omitempty"`

	// MimeType describes binary content.
	MimeType string `json:"mimeType,omitempty"`
}

// Text concatenates the text content items of a response.
func (r *ToolCallResponse) TextContent() string {
	var out string
	for _, item := range r.Content {
		if item.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += item.Text
		}
	}
	return out
}

// Transport identifies how the client connects to the MCP server.
type Transport string

const (
	// TransportHTTP uses streamable HTTP (the default for IBM i MCP servers).
	TransportHTTP Transport = "http"
	// TransportSSE uses server-sent events.
	TransportSSE Transport = "sse"
	// TransportStdio launches the server as a subprocess.
	TransportStdio Transport = "stdio"
)

// ParseTransport validates a transport name.
func ParseTransport(s string) (Transport, error) {
	switch Transport(s) {
	case TransportHTTP, TransportSSE, TransportStdio:
		return Transport(s), nil
	case "streamable-http":
		return TransportHTTP, nil
	default:
		return "", fmt.Errorf("unsupported MCP transport: %q (expected http, sse, or stdio)", s)
	}
}
