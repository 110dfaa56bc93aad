// Package tools implements the tool registry and dispatcher: native tool
// lookup, MCP routing, premium gating, argument validation, and per-call
// cost accounting.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chorushq/chorus/internal/conversation"
	"github.com/chorushq/chorus/pkg/models"
)

// Result statuses.
const (
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
)

// Tool type classes.
const (
	TypeNormal  = "normal"
	TypePremium = "premium"
)

// Hard limits on tool invocations.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 * 1024 * 1024
)

// Result is the uniform outcome of one tool invocation.
type Result struct {
	Status  string         `json:"status"`
	Name    string         `json:"name"`
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
	Role    string         `json:"role,omitempty"`
}

// Errorf builds an error result for a tool.
func Errorf(name, format string, args ...any) *Result {
	return &Result{Status: StatusError, Name: name, Content: fmt.Sprintf(format, args...)}
}

// Success builds a success result.
func Success(name, content string, data map[string]any) *Result {
	return &Result{Status: StatusSuccess, Name: name, Content: content, Data: data}
}

// Invocation carries the per-call context a tool handler may need.
type Invocation struct {
	CompletionID string
	Name         string
	Args         map[string]any
	User         *models.User
	AppURL       string

	// Conversation is the request's manager, nil for ephemeral calls.
	Conversation *conversation.Manager

	// CurrentAgentID and DelegationStack support team delegation.
	CurrentAgentID     string
	DelegationStack    []string
	MaxDelegationDepth int

	// Dispatch re-enters the dispatcher, for meta-tools that run other
	// tools.
	Dispatch DispatchFunc
}

// DispatchFunc invokes a named tool with arguments under the same request
// context.
type DispatchFunc func(ctx context.Context, name string, args map[string]any) *Result

// HandlerFunc executes one tool call. Handlers report tool-level failures
// through the Result status; a returned error means the dispatcher itself
// should synthesize the error result.
type HandlerFunc func(ctx context.Context, inv *Invocation) (*Result, error)

// Descriptor declares a callable tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
	Type        string          `json:"type,omitempty"`
	CostPerCall float64         `json:"cost_per_call,omitempty"`
	IsDefault   bool            `json:"is_default,omitempty"`
	Strict      bool            `json:"strict,omitempty"`

	Handler HandlerFunc `json:"-"`
}

// IsPremium reports whether the tool requires the pro plan.
func (d *Descriptor) IsPremium() bool { return d.Type == TypePremium }
