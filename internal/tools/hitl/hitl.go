// Package hitl provides the human-in-the-loop tools. They never block:
// each returns a pending result describing what the user must resolve, and
// the client supplies the resolution in a follow-up tool message.
package hitl

import (
	"context"

	"github.com/chorushq/chorus/internal/tools"
)

// Register adds the human-in-the-loop tools to the registry.
func Register(reg *tools.Registry) {
	reg.MustRegister(approvalDescriptor())
	reg.MustRegister(askUserDescriptor())
}

func approvalDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "request_approval",
		Description: "Pause and ask the user to approve or reject a proposed action.",
		Type:        tools.TypeNormal,
		Handler:     runRequestApproval,
	}
}

func runRequestApproval(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	message, _ := inv.Args["message"].(string)
	if message == "" {
		return tools.Errorf(inv.Name, "message is required"), nil
	}

	payload := map[string]any{
		"type":                 "approval",
		"status":               tools.StatusPending,
		"requires_user_action": true,
		"message":              message,
	}
	if options, ok := inv.Args["options"].([]any); ok && len(options) > 0 {
		payload["options"] = options
	}

	return &tools.Result{
		Status:  tools.StatusPending,
		Name:    inv.Name,
		Content: "Waiting for user approval: " + message,
		Data:    map[string]any{"humanInTheLoop": payload},
	}, nil
}

func askUserDescriptor() *tools.Descriptor {
	return &tools.Descriptor{
		Name:        "ask_user",
		Description: "Pause and ask the user a clarifying question.",
		Type:        tools.TypeNormal,
		Handler:     runAskUser,
	}
}

func runAskUser(_ context.Context, inv *tools.Invocation) (*tools.Result, error) {
	question, _ := inv.Args["question"].(string)
	if question == "" {
		return tools.Errorf(inv.Name, "question is required"), nil
	}

	payload := map[string]any{
		"type":                 "question",
		"status":               tools.StatusPending,
		"requires_user_action": true,
		"question":             question,
	}
	if suggestions, ok := inv.Args["suggestions"].([]any); ok && len(suggestions) > 0 {
		payload["suggestions"] = suggestions
	}
	if format, ok := inv.Args["expected_format"].(string); ok && format != "" {
		payload["expected_format"] = format
	}

	return &tools.Result{
		Status:  tools.StatusPending,
		Name:    inv.Name,
		Content: "Waiting for user input: " + question,
		Data:    map[string]any{"humanInTheLoop": payload},
	}, nil
}
