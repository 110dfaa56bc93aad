package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/chorushq/chorus/internal/observability"
)

// Client talks to a single MCP server and caches its tool listing.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *observability.Logger

	mu    sync.RWMutex
	tools []*Tool
}

// NewClient creates a client over the config's HTTP endpoint.
func NewClient(cfg *ServerConfig, logger *observability.Logger) *Client {
	return &Client{
		config:    cfg,
		transport: NewHTTPTransport(cfg),
		logger:    logger,
	}
}

// Connect performs the initialize handshake and loads the tool listing.
func (c *Client) Connect(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "chorus",
			"version": "1.0.0",
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		return fmt.Errorf("parse initialize result: %w", err)
	}
	if c.logger != nil {
		c.logger.Info(ctx, "connected to MCP server",
			"agent_id", c.config.AgentID,
			"server", init.ServerInfo.Name,
			"protocol", init.ProtocolVersion)
	}

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil && c.logger != nil {
		c.logger.Warn(ctx, "initialized notification failed", "error", err)
	}

	return c.RefreshTools(ctx)
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.transport.Close()
}

// RefreshTools reloads the server's tool listing.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var listing listToolsResult
	if err := json.Unmarshal(result, &listing); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = listing.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tool listing.
func (c *Client) Tools() []*Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// ResolveTool maps a requested name to an advertised tool: exact match
// first, then a unique substring match. Ambiguous names are an error.
func (c *Client) ResolveTool(name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matches []string
	for _, tool := range c.tools {
		if tool.Name == name {
			return name, nil
		}
		if strings.Contains(tool.Name, name) {
			matches = append(matches, tool.Name)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return "", fmt.Errorf("tool %q not found on server %s", name, c.config.AgentID)
	default:
		return "", fmt.Errorf("tool %q is ambiguous on server %s: %s", name, c.config.AgentID, strings.Join(matches, ", "))
	}
}

// CallTool invokes a tool, resolving the name first.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallToolResult, error) {
	resolved, err := c.ResolveTool(name)
	if err != nil {
		return nil, err
	}

	params := callToolParams{Name: resolved}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		params.Arguments = raw
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var callResult CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &callResult, nil
}
