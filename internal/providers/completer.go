package providers

import (
	"context"

	"github.com/chorushq/chorus/pkg/models"
)

// ModelCompleter exposes one catalog model as the small text-in/text-out
// surface the analyser and reranker consume.
type ModelCompleter struct {
	registry *Registry
	model    string
}

// NewModelCompleter binds a completer to a model, typically the
// configured auxiliary model.
func NewModelCompleter(registry *Registry, model string) *ModelCompleter {
	return &ModelCompleter{registry: registry, model: model}
}

// Complete runs a single-turn completion and returns the full text.
func (c *ModelCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	chunks, err := c.registry.Chat(ctx, ChatOptions{Model: c.model, Explicit: true}, &ChatRequest{
		System:   system,
		Messages: []ChatMessage{{Role: models.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	resp, err := Collect(ctx, chunks)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
