package rag

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/chorushq/chorus/internal/observability"
)

// Service ties the embedder and vector store together and enforces
// namespace scoping.
type Service struct {
	embedder Embedder
	store    VectorStore
	aux      Completer
	logger   *observability.Logger
}

// NewService creates a retrieval service. aux may be nil, in which case
// reranking and summarisation are skipped.
func NewService(embedder Embedder, store VectorStore, aux Completer, logger *observability.Logger) *Service {
	return &Service{embedder: embedder, store: store, aux: aux, logger: logger}
}

// Generate embeds content into a Record ready for insertion. An empty id
// gets a generated one.
func (s *Service) Generate(ctx context.Context, docType, content, id string, metadata map[string]any) (*Record, error) {
	if content == "" {
		return nil, fmt.Errorf("content is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	vectors, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	return &Record{
		ID:       id,
		Type:     docType,
		Content:  content,
		Metadata: metadata,
		Vector:   vectors[0],
	}, nil
}

// Insert stores records under the caller's effective namespace. A
// user-scoped namespace naming another user is silently downgraded to the
// public namespace.
func (s *Service) Insert(ctx context.Context, records []Record, namespace string, userID uint64) error {
	ns := EffectiveNamespace(namespace, userID)
	if ns != namespace && namespace != "" && s.logger != nil {
		s.logger.Warn(ctx, "namespace downgraded", "requested", namespace, "effective", ns)
	}
	return s.store.Upsert(ctx, ns, records)
}

// Delete removes records by id from the caller's effective namespace.
func (s *Service) Delete(ctx context.Context, ids []string, namespace string, userID uint64) error {
	return s.store.Delete(ctx, EffectiveNamespace(namespace, userID), ids)
}

// GetQuery embeds a query string.
func (s *Service) GetQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return vectors[0], nil
}

// GetMatches runs a raw vector search under the caller's effective
// namespace.
func (s *Service) GetMatches(ctx context.Context, vector []float32, opts SearchOptions, userID uint64) ([]Match, error) {
	limit := opts.TopK
	if limit <= 0 {
		limit = DefaultRerankCandidates
	}
	threshold := opts.ScoreThreshold
	if threshold == 0 {
		threshold = DefaultScoreThreshold
	}
	ns := EffectiveNamespace(opts.Namespace, userID)
	return s.store.Search(ctx, ns, vector, limit, threshold, opts.Type)
}

// SearchSimilar embeds the query and returns matching documents.
func (s *Service) SearchSimilar(ctx context.Context, query string, opts SearchOptions, userID uint64) ([]Document, error) {
	vector, err := s.GetQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	matches, err := s.GetMatches(ctx, vector, opts, userID)
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(matches))
	for _, m := range matches {
		docs = append(docs, Document{
			ID:       m.ID,
			Type:     m.Type,
			Title:    m.Title,
			Content:  m.Content,
			Metadata: m.Metadata,
			Score:    m.Score,
		})
	}
	return docs, nil
}
