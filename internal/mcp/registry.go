package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chorushq/chorus/internal/tools"
)

// Registry holds the MCP clients keyed by owning agent id. It is
// insert-only: clients are added during agent startup and never replaced,
// so lookups need no invalidation.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client // agent id -> client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Add registers a client for its agent. Adding an agent twice is an error;
// the registry is insert-only.
func (r *Registry) Add(client *Client) error {
	agentID := client.config.AgentID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[agentID]; exists {
		return fmt.Errorf("mcp client for agent %s already registered", agentID)
	}
	r.clients[agentID] = client
	return nil
}

// clientFor finds the client whose agent id starts with the short id taken
// from an mcp_ tool name. An ambiguous prefix is an error.
func (r *Registry) clientFor(shortAgentID string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched *Client
	for agentID, client := range r.clients {
		if strings.HasPrefix(agentID, shortAgentID) {
			if matched != nil {
				return nil, fmt.Errorf("agent id prefix %q is ambiguous", shortAgentID)
			}
			matched = client
		}
	}
	if matched == nil {
		return nil, fmt.Errorf("no MCP server registered for agent prefix %q", shortAgentID)
	}
	return matched, nil
}

// Invoke implements tools.MCPRouter.
func (r *Registry) Invoke(ctx context.Context, shortAgentID, toolName string, args map[string]any) (*tools.Result, error) {
	client, err := r.clientFor(shortAgentID)
	if err != nil {
		return nil, err
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		return nil, err
	}

	status := tools.StatusSuccess
	if result.IsError {
		status = tools.StatusError
	}
	return &tools.Result{
		Status:  status,
		Content: result.Text(),
		Role:    "tool",
	}, nil
}

// ToolNames lists every callable tool as its dispatcher-visible
// mcp_{shortAgentID}_{tool} name, using the first 8 characters of the
// agent id.
func (r *Registry) ToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for agentID, client := range r.clients {
		short := agentID
		if len(short) > 8 {
			short = short[:8]
		}
		for _, tool := range client.Tools() {
			out = append(out, fmt.Sprintf("mcp_%s_%s", short, tool.Name))
		}
	}
	return out
}
