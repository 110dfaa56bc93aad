package hitl

import (
	"context"
	"testing"

	"github.com/chorushq/chorus/internal/tools"
)

func newRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry(nil, nil, nil, nil)
	Register(reg)
	return reg
}

func TestRequestApprovalPending(t *testing.T) {
	reg := newRegistry(t)
	result := reg.Dispatch(context.Background(), &tools.Invocation{
		Name: "request_approval",
		Args: map[string]any{
			"message": "Delete 14 rows from the orders table?",
			"options": []any{"approve", "reject"},
		},
	})
	if result.Status != tools.StatusPending {
		t.Fatalf("status = %q, want pending", result.Status)
	}
	payload, ok := result.Data["humanInTheLoop"].(map[string]any)
	if !ok {
		t.Fatalf("missing humanInTheLoop payload: %+v", result.Data)
	}
	if payload["type"] != "approval" || payload["status"] != tools.StatusPending {
		t.Fatalf("bad payload: %+v", payload)
	}
	if payload["requires_user_action"] != true {
		t.Fatal("requires_user_action not set")
	}
	if len(payload["options"].([]any)) != 2 {
		t.Fatalf("options not carried: %+v", payload)
	}
}

func TestAskUserPending(t *testing.T) {
	reg := newRegistry(t)
	result := reg.Dispatch(context.Background(), &tools.Invocation{
		Name: "ask_user",
		Args: map[string]any{
			"question":        "Which region should I deploy to?",
			"suggestions":     []any{"us-east-1", "eu-west-1"},
			"expected_format": "region name",
		},
	})
	if result.Status != tools.StatusPending {
		t.Fatalf("status = %q, want pending", result.Status)
	}
	payload := result.Data["humanInTheLoop"].(map[string]any)
	if payload["type"] != "question" || payload["expected_format"] != "region name" {
		t.Fatalf("bad payload: %+v", payload)
	}
}

func TestApprovalRequiresMessage(t *testing.T) {
	reg := newRegistry(t)
	result := reg.Dispatch(context.Background(), &tools.Invocation{Name: "request_approval", Args: map[string]any{}})
	if result.Status != tools.StatusError {
		t.Fatalf("missing message accepted: %+v", result)
	}
}
