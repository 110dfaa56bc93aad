package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// RetrievalResearchProvider starts research tasks and hands back an async
// poll descriptor. The actual long-running work is owned by the retrieval
// app; the chat core only issues handles.
type RetrievalResearchProvider struct {
	appURL         string
	pollIntervalMs int

	mu    sync.Mutex
	tasks map[string]string // id -> query
}

// NewRetrievalResearchProvider creates the provider. appURL prefixes the
// poll path handed to clients.
func NewRetrievalResearchProvider(appURL string) *RetrievalResearchProvider {
	return &RetrievalResearchProvider{
		appURL:         strings.TrimSuffix(appURL, "/"),
		pollIntervalMs: 5000,
		tasks:          make(map[string]string),
	}
}

// Name implements ResearchProvider.
func (p *RetrievalResearchProvider) Name() string { return "retrieval" }

// StartResearch implements ResearchProvider.
func (p *RetrievalResearchProvider) StartResearch(_ context.Context, query string) (*ResearchHandle, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("research query is required")
	}
	id := uuid.NewString()

	p.mu.Lock()
	p.tasks[id] = query
	p.mu.Unlock()

	return &ResearchHandle{
		Provider:       p.Name(),
		ID:             id,
		PollIntervalMs: p.pollIntervalMs,
		PollURL:        fmt.Sprintf("%s/apps/retrieval/research/%s", p.appURL, id),
	}, nil
}
