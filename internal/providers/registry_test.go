package providers

import (
	"context"
	"errors"
	"testing"

	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/catalog"
	"github.com/chorushq/chorus/internal/config"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/pkg/models"
)

// fakeChat scripts a chat provider.
type fakeChat struct {
	name    string
	content string
	err     error
	calls   int
	lastReq *ChatRequest
}

func (f *fakeChat) Name() string { return f.name }

func (f *fakeChat) Complete(_ context.Context, req *ChatRequest) (<-chan *Chunk, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	chunks := make(chan *Chunk, 2)
	chunks <- &Chunk{Content: f.content}
	chunks <- &Chunk{Done: true, Usage: &models.Usage{PromptTokens: 3, CompletionTokens: 5, TotalTokens: 8}}
	close(chunks)
	return chunks, nil
}

func newTestRegistry(t *testing.T) (*Registry, *catalog.Catalog) {
	t.Helper()
	cat := catalog.NewWithModels([]*models.ModelDescriptor{
		{Name: "mistral-large", MatchingModel: "mistral-large-latest", Provider: "mistral", IsFree: true, IncludedInRouter: true},
		{Name: "claude-sonnet", MatchingModel: "claude-sonnet-4-20250514", Provider: "anthropic", IncludedInRouter: true},
	}, config.ProvidersConfig{AlwaysEnabled: "mistral"}, cache.NewMemory(), storage.NewMemoryStore(), nil)
	return NewRegistry(cat, nil, nil, nil), cat
}

func TestChatResolvesProviderFromModel(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mistral := &fakeChat{name: "mistral", content: "bonjour"}
	anthropic := &fakeChat{name: "anthropic", content: "hello"}
	reg.RegisterChat(mistral)
	reg.RegisterChat(anthropic)

	chunks, err := reg.Chat(context.Background(), ChatOptions{Model: "claude-sonnet", Explicit: true}, &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	resp, err := Collect(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("wrong provider answered: %q", resp.Content)
	}
	if anthropic.lastReq.Model != "claude-sonnet-4-20250514" {
		t.Fatalf("matching model not substituted: %q", anthropic.lastReq.Model)
	}
	if mistral.calls != 0 {
		t.Fatal("default provider should not have been called")
	}
}

func TestChatFailoverToDefaultOnRouterPick(t *testing.T) {
	reg, _ := newTestRegistry(t)
	fallback := &fakeChat{name: "mistral", content: "fallback answer"}
	broken := &fakeChat{name: "anthropic", err: errors.New("upstream down")}
	reg.RegisterChat(fallback)
	reg.RegisterChat(broken)
	reg.SetDefault(CapChat, "mistral")

	// Router-picked model (Explicit=false) on the broken provider: one
	// retry against the default provider.
	chunks, err := reg.Chat(context.Background(), ChatOptions{Model: "claude-sonnet"}, &ChatRequest{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	resp, err := Collect(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "fallback answer" {
		t.Fatalf("expected fallback to answer, got %q", resp.Content)
	}
	if broken.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected one call each, got broken=%d fallback=%d", broken.calls, fallback.calls)
	}
}

func TestChatExplicitProviderDoesNotFailover(t *testing.T) {
	reg, _ := newTestRegistry(t)
	healthy := &fakeChat{name: "mistral", content: "ok"}
	broken := &fakeChat{name: "anthropic", err: errors.New("upstream down")}
	reg.RegisterChat(healthy)
	reg.RegisterChat(broken)

	_, err := reg.Chat(context.Background(), ChatOptions{Provider: "anthropic"}, &ChatRequest{})
	if err == nil {
		t.Fatal("explicit provider failure must propagate")
	}
	if healthy.calls != 0 {
		t.Fatal("failover ran despite an explicit provider")
	}
}

func TestGetChatProviderNotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.GetChatProvider("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestCollectAggregatesUsage(t *testing.T) {
	chunks := make(chan *Chunk, 3)
	chunks <- &Chunk{Content: "a"}
	chunks <- &Chunk{Content: "b", ToolCall: nil}
	chunks <- &Chunk{Done: true, Usage: &models.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}, LogID: "log-1"}
	close(chunks)

	resp, err := Collect(context.Background(), chunks)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if resp.Content != "ab" || resp.Usage.TotalTokens != 3 || resp.LogID != "log-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestIsRetryableUpstreamError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{errors.New("429 too many requests"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("connection refused"), true},
		{errors.New("request timeout"), true},
		{errors.New("401 unauthorized"), false},
		{errors.New("invalid request body"), false},
		{context.Canceled, false},
	}
	for _, tt := range tests {
		if got := isRetryableUpstreamError(tt.err); got != tt.want {
			t.Errorf("isRetryableUpstreamError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

type fakeMedia struct{ name string }

func (f *fakeMedia) Name() string { return f.name }

func (f *fakeMedia) GenerateMusic(context.Context, string) (*MediaResult, error) {
	return &MediaResult{URL: "https://cdn.test/track.mp3"}, nil
}

func (f *fakeMedia) GenerateVideo(context.Context, string) (*MediaResult, error) {
	return &MediaResult{URL: "https://cdn.test/clip.mp4"}, nil
}

func TestMediaCapabilityDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.RegisterMusic(&fakeMedia{name: "suno"})
	reg.RegisterVideo(&fakeMedia{name: "runway"})

	m, err := reg.GetMusicProvider("")
	if err != nil || m.Name() != "suno" {
		t.Fatalf("music default = %v, %v", m, err)
	}
	v, err := reg.GetVideoProvider("")
	if err != nil || v.Name() != "runway" {
		t.Fatalf("video default = %v, %v", v, err)
	}
	if _, err := reg.GetVideoProvider("pika"); err == nil {
		t.Fatal("expected error for unknown video provider")
	}
}
