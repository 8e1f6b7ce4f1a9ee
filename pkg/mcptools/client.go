package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/steward-project/steward/pkg/errors"
)

// DefaultCallTimeout bounds individual tool calls when the config does
// not specify one. IBM i services queries can be slow on busy systems.
const DefaultCallTimeout = 60 * time.Second

// ClientConfig configures a connection to an MCP server.
type ClientConfig struct {
	// URL is the server endpoint for http and sse transports.
	URL string

	// Transport selects the connection mechanism. Default: http.
	Transport Transport

	// Command, Args and Env launch the server process for the stdio transport.
	Command string
	Args    []string
	Env     []string

	// CallTimeout bounds individual tool calls. Default: DefaultCallTimeout.
	CallTimeout time.Duration

	// Logger receives connection lifecycle events. Default: slog.Default().
	Logger *slog.Logger
}

// Client wraps an MCP protocol client with tool listing and execution.
// It extracts tool annotations from the raw tool JSON so that custom
// annotation keys survive the typed protocol structs.
type Client struct {
	endpoint string
	client   *client.Client
	timeout  time.Duration
	logger   *slog.Logger
}

// NewClient connects to an MCP server and performs the initialize handshake.
func NewClient(ctx context.Context, config ClientConfig) (*Client, error) {
	transport := config.Transport
	if transport == "" {
		transport = TransportHTTP
	}

	var (
		mcpClient *client.Client
		endpoint  string
		err       error
	)

	switch transport {
	case TransportHTTP:
		if config.URL == "" {
			return nil, &errors.ConfigError{Key: "mcp.url", Reason: "URL is required for the http transport"}
		}
		endpoint = config.URL
		mcpClient, err = client.NewStreamableHttpClient(config.URL)
	case TransportSSE:
		if config.URL == "" {
			return nil, &errors.ConfigError{Key: "mcp.url", Reason: "URL is required for the sse transport"}
		}
		endpoint = config.URL
		mcpClient, err = client.NewSSEMCPClient(config.URL)
	case TransportStdio:
		if config.Command == "" {
			return nil, &errors.ConfigError{Key: "mcp.command", Reason: "command is required for the stdio transport"}
		}
		endpoint = config.Command
		mcpClient, err = client.NewStdioMCPClient(config.Command, config.Env, config.Args...)
	default:
		return nil, &errors.ConfigError{Key: "mcp.transport", Reason: fmt.Sprintf("unsupported transport %q", transport)}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP client: %w", err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}

	timeout := config.CallTimeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		endpoint: endpoint,
		client:   mcpClient,
		timeout:  timeout,
		logger:   logger,
	}

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return c, nil
}

// Endpoint returns the server address this client is connected to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// initialize sends the initialize request to the MCP server.
func (c *Client) initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "steward",
				Version: "0.1.0",
			},
		},
	}

	result, err := c.client.Initialize(ctx, initReq)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}

	c.logger.Debug("MCP server initialized",
		"server", c.endpoint,
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version)

	return nil
}

// ListTools retrieves the tools advertised by the MCP server, including
// their annotations.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolDefinition, len(result.Tools))
	for i, tool := range result.Tools {
		schemaBytes, err := extractInputSchema(tool)
		if err != nil {
			return nil, err
		}

		tools[i] = ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
			Annotations: extractAnnotations(tool),
		}
	}

	return tools, nil
}

// extractInputSchema returns the tool's input schema as raw JSON.
// RawInputSchema is preferred; otherwise the tool is re-marshalled and
// the inputSchema field extracted.
func extractInputSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return json.RawMessage(tool.RawInputSchema), nil
	}

	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}
	var toolMap map[string]interface{}
	if err := json.Unmarshal(toolBytes, &toolMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool %s: %w", tool.Name, err)
	}
	inputSchema, ok := toolMap["inputSchema"]
	if !ok {
		return nil, nil
	}
	schemaBytes, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
	}
	return schemaBytes, nil
}

// extractAnnotations collects the tool's annotations into a flat map.
//
// Custom keys such as "toolsets" are not modelled by the typed protocol
// structs, so the tool is re-marshalled and the raw annotations object
// read back. Typed standard hints and _meta fields are merged in on top.
func extractAnnotations(tool mcp.Tool) map[string]interface{} {
	ann := make(map[string]interface{})

	if toolBytes, err := tool.MarshalJSON(); err == nil {
		var toolMap map[string]interface{}
		if err := json.Unmarshal(toolBytes, &toolMap); err == nil {
			if raw, ok := toolMap["annotations"].(map[string]interface{}); ok {
				for k, v := range raw {
					ann[k] = v
				}
			}
		}
	}

	if tool.Annotations.Title != "" {
		ann["title"] = tool.Annotations.Title
	}
	if tool.Annotations.ReadOnlyHint != nil {
		ann["readOnlyHint"] = *tool.Annotations.ReadOnlyHint
	}
	if tool.Annotations.DestructiveHint != nil {
		ann["destructiveHint"] = *tool.Annotations.DestructiveHint
	}
	if tool.Annotations.IdempotentHint != nil {
		ann["idempotentHint"] = *tool.Annotations.IdempotentHint
	}
	if tool.Annotations.OpenWorldHint != nil {
		ann["openWorldHint"] = *tool.Annotations.OpenWorldHint
	}

	// Some servers publish custom annotations through _meta instead.
	if tool.Meta != nil {
		for k, v := range tool.Meta.AdditionalFields {
			if _, exists := ann[k]; !exists {
				ann[k] = v
			}
		}
	}

	if len(ann) == 0 {
		return nil
	}
	return ann
}

// CallTool executes an MCP tool with the given arguments.
func (c *Client) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	mcpReq := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      req.Name,
			Arguments: req.Arguments,
		},
	}

	result, err := c.client.CallTool(ctx, mcpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &errors.TimeoutError{
				Operation: fmt.Sprintf("tool %s", req.Name),
				Duration:  c.timeout,
				Cause:     err,
			}
		}
		return nil, &errors.ToolError{
			Tool:    req.Name,
			Server:  c.endpoint,
			Message: "call failed",
			Cause:   err,
		}
	}

	response := &ToolCallResponse{
		IsError: result.IsError,
		Content: make([]ContentItem, 0, len(result.Content)),
	}

	for _, content := range result.Content {
		item := ContentItem{}
		if textContent, ok := mcp.AsTextContent(content); ok {
			item.Type = "text"
			item.Text = textContent.Text
		} else if imageContent, ok := mcp.AsImageContent(content); ok {
			item.Type = "image"
			item.Data = imageContent.Data
			item.MimeType = imageContent.MIMEType
		} else {
			// Unknown content type: keep a JSON rendering rather than drop it.
			if data, err := json.Marshal(content); err == nil {
				item.Type = "text"
				item.Text = string(data)
			}
		}
		response.Content = append(response.Content, item)
	}

	return response, nil
}

// Ping checks that the server connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

// Close shuts down the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}
