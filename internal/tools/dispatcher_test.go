package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/conversation"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/internal/usage"
	"github.com/chorushq/chorus/pkg/models"
)

func echoDescriptor(name string) *Descriptor {
	return &Descriptor{
		Name:        name,
		Description: "echo",
		Handler: func(_ context.Context, inv *Invocation) (*Result, error) {
			text, _ := inv.Args["text"].(string)
			return Success(name, text, nil), nil
		},
	}
}

func TestDispatchRunsRegisteredTool(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	reg.MustRegister(echoDescriptor("echo"))

	result := reg.Dispatch(context.Background(), &Invocation{
		Name: "echo",
		Args: map[string]any{"text": "hello"},
	})
	if result.Status != StatusSuccess || result.Content != "hello" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	result := reg.Dispatch(context.Background(), &Invocation{Name: "nope"})
	if result.Status != StatusError || !strings.Contains(result.Content, "unknown tool") {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestDispatchPremiumGating(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	d := echoDescriptor("fancy")
	d.Type = TypePremium
	reg.MustRegister(d)

	free := &models.User{ID: 1, Plan: models.PlanFree}
	result := reg.Dispatch(context.Background(), &Invocation{Name: "fancy", User: free, Args: map[string]any{"text": "x"}})
	if result.Status != StatusError || !strings.Contains(result.Content, "pro plan") {
		t.Fatalf("free user not gated: %+v", result)
	}

	pro := &models.User{ID: 2, Plan: models.PlanPro}
	result = reg.Dispatch(context.Background(), &Invocation{Name: "fancy", User: pro, Args: map[string]any{"text": "x"}})
	if result.Status != StatusSuccess {
		t.Fatalf("pro user blocked: %+v", result)
	}
}

func TestDispatchQuotaFailClosed(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: 1, Plan: models.PlanFree}
	usg := usage.NewManager(cache.NewMemory(), nil)
	for i := 0; i < usage.FreeMonthlyMessages; i++ {
		usg.IncrementByModel(ctx, user, "m")
	}
	mgr := conversation.NewManager(storage.NewMemoryStore(), usg, nil, conversation.Options{User: user, Store: true})

	reg := NewRegistry(nil, nil, nil, nil)
	reg.MustRegister(echoDescriptor("echo"))

	result := reg.Dispatch(ctx, &Invocation{Name: "echo", User: user, Conversation: mgr, Args: map[string]any{"text": "x"}})
	if result.Status != StatusError || !strings.Contains(result.Content, "usage limit") {
		t.Fatalf("quota not enforced: %+v", result)
	}
}

func TestDispatchStrictSchemaValidation(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	d := echoDescriptor("typed")
	d.Strict = true
	d.Parameters = json.RawMessage(`{
		"type": "object",
		"required": ["text"],
		"properties": {"text": {"type": "string"}}
	}`)
	reg.MustRegister(d)

	bad := reg.Dispatch(context.Background(), &Invocation{Name: "typed", Args: map[string]any{"text": 42}})
	if bad.Status != StatusError || !strings.Contains(bad.Content, "invalid arguments") {
		t.Fatalf("bad args accepted: %+v", bad)
	}

	good := reg.Dispatch(context.Background(), &Invocation{Name: "typed", Args: map[string]any{"text": "ok"}})
	if good.Status != StatusSuccess {
		t.Fatalf("valid args rejected: %+v", good)
	}
}

func TestRegisterRejectsDuplicatesAndBadSchemas(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	if err := reg.Register(echoDescriptor("echo")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(echoDescriptor("echo")); err == nil {
		t.Fatal("duplicate registration must fail")
	}

	bad := echoDescriptor("bad")
	bad.Parameters = json.RawMessage(`{"type": ["not", "valid"`)
	if err := reg.Register(bad); err == nil {
		t.Fatal("malformed schema must fail registration")
	}
}

type fakeMCP struct {
	agentID  string
	toolName string
	result   *Result
}

func (f *fakeMCP) Invoke(_ context.Context, shortAgentID, toolName string, _ map[string]any) (*Result, error) {
	f.agentID = shortAgentID
	f.toolName = toolName
	return f.result, nil
}

func TestDispatchMCPRouting(t *testing.T) {
	mcp := &fakeMCP{result: &Result{Status: StatusSuccess, Content: "from server"}}
	reg := NewRegistry(mcp, nil, nil, nil)

	result := reg.Dispatch(context.Background(), &Invocation{Name: "mcp_ab12_search_docs"})
	if result.Status != StatusSuccess || result.Content != "from server" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if mcp.agentID != "ab12" || mcp.toolName != "search_docs" {
		t.Fatalf("bad routing: agent=%q tool=%q", mcp.agentID, mcp.toolName)
	}
	if result.Name != "mcp_ab12_search_docs" {
		t.Fatalf("result name not backfilled: %q", result.Name)
	}
}

func TestDispatchMCPMalformedName(t *testing.T) {
	reg := NewRegistry(&fakeMCP{}, nil, nil, nil)
	result := reg.Dispatch(context.Background(), &Invocation{Name: "mcp_justonepart"})
	if result.Status != StatusError {
		t.Fatalf("malformed MCP name accepted: %+v", result)
	}
}

func TestDispatchRejectsOversizedName(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	result := reg.Dispatch(context.Background(), &Invocation{Name: strings.Repeat("a", MaxToolNameLength+1)})
	if result.Status != StatusError {
		t.Fatal("oversized tool name accepted")
	}
}

func TestDefaultsFilter(t *testing.T) {
	reg := NewRegistry(nil, nil, nil, nil)
	d1 := echoDescriptor("alpha")
	d1.IsDefault = true
	reg.MustRegister(d1)
	reg.MustRegister(echoDescriptor("beta"))

	defaults := reg.Defaults()
	if len(defaults) != 1 || defaults[0].Name != "alpha" {
		t.Fatalf("Defaults = %v", defaults)
	}
}
