// Package mcp implements the Model Context Protocol client side used for
// agent-scoped tool servers: an HTTP JSON-RPC transport, a per-server
// client with cached tool listings, and an insert-only registry that
// routes mcp_-prefixed tool calls.
package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// protocolVersion is the MCP revision this client speaks.
const protocolVersion = "2024-11-05"

// ServerConfig describes one MCP server endpoint.
type ServerConfig struct {
	// AgentID is the owning agent; mcp_{shortAgentID}_{tool} names route
	// here by id prefix.
	AgentID string `yaml:"agent_id" json:"agent_id"`

	Name    string            `yaml:"name" json:"name"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`
	Timeout time.Duration     `yaml:"timeout" json:"timeout,omitempty"`
}

// Validate rejects configurations the transport cannot serve.
func (c *ServerConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("mcp server: agent_id is required")
	}
	if c.URL == "" {
		return fmt.Errorf("mcp server %s: url is required", c.AgentID)
	}
	if !strings.HasPrefix(c.URL, "http://") && !strings.HasPrefix(c.URL, "https://") {
		return fmt.Errorf("mcp server %s: url must be http or https", c.AgentID)
	}
	return nil
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// Tool is a server-advertised tool.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// initializeResult is the server's initialize reply.
type initializeResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

// listToolsResult is the tools/list reply.
type listToolsResult struct {
	Tools []*Tool `json:"tools"`
}

// callToolParams is the tools/call request body.
type callToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ContentBlock is one piece of a tool call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallToolResult is the tools/call reply.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text concatenates the textual content blocks.
func (r *CallToolResult) Text() string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}
