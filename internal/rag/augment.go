package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const rerankSystemPrompt = `You rank context passages by relevance to a query.
Respond with a JSON array of passage ids ordered from most to least
relevant. Respond with the array only, no prose.`

const summariseSystemPrompt = `You compress context passages. Summarise the
passage in at most 100 words, keeping every fact needed to answer
questions about it. Respond with the summary only.`

// AugmentPrompt rewrites a query with retrieved context. Any unexpected
// failure returns the original query unchanged; retrieval must never fail
// the chat turn.
func (s *Service) AugmentPrompt(ctx context.Context, query string, opts SearchOptions, userID uint64) string {
	augmented, err := s.augment(ctx, query, opts, userID)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "prompt augmentation failed, using original query", "error", err)
		}
		return query
	}
	return augmented
}

func (s *Service) augment(ctx context.Context, query string, opts SearchOptions, userID uint64) (string, error) {
	topK := opts.TopK
	if topK <= 0 {
		if len(query) < 20 {
			topK = 1
		} else {
			topK = 3
		}
	}
	candidates := opts.RerankCandidates
	if candidates <= 0 {
		candidates = DefaultRerankCandidates
	}

	retrieveOpts := opts
	retrieveOpts.TopK = candidates
	docs, err := s.SearchSimilar(ctx, query, retrieveOpts, userID)
	if err != nil {
		return "", err
	}
	if len(docs) == 0 {
		return query, nil
	}

	if len(docs) > topK {
		docs = s.rerank(ctx, query, docs)
	}
	if len(docs) > topK {
		docs = docs[:topK]
	}

	for i := range docs {
		if len(docs[i].Content) > SummaryThreshold {
			docs[i].Content = s.summarise(ctx, docs[i].Content)
		}
	}

	contexts := make([]map[string]any, 0, len(docs))
	for _, d := range docs {
		entry := map[string]any{"content": d.Content}
		if d.Title != "" {
			entry["title"] = d.Title
		}
		contexts = append(contexts, entry)
	}
	raw, err := json.Marshal(contexts)
	if err != nil {
		return "", fmt.Errorf("marshal contexts: %w", err)
	}
	return fmt.Sprintf("Contexts (JSON array):\n%s\nAnswer the query %q using *only* these contexts.", raw, query), nil
}

// rerank asks the auxiliary model to reorder documents. Any failure keeps
// the dense-score order.
func (s *Service) rerank(ctx context.Context, query string, docs []Document) []Document {
	if s.aux == nil {
		return docs
	}

	passages := make([]map[string]string, 0, len(docs))
	for _, d := range docs {
		passages = append(passages, map[string]string{"id": d.ID, "content": d.Content})
	}
	raw, err := json.Marshal(passages)
	if err != nil {
		return docs
	}

	prompt := fmt.Sprintf("Query: %s\n\nPassages:\n%s", query, raw)
	reply, err := s.aux.Complete(ctx, rerankSystemPrompt, prompt)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "rerank call failed, keeping dense order", "error", err)
		}
		return docs
	}

	var order []string
	if err := json.Unmarshal([]byte(extractJSONArray(reply)), &order); err != nil {
		if s.logger != nil {
			s.logger.Warn(ctx, "rerank response unparseable, keeping dense order", "error", err)
		}
		return docs
	}

	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	ranked := make([]Document, 0, len(docs))
	seen := make(map[string]bool, len(order))
	for _, id := range order {
		if d, ok := byID[id]; ok && !seen[id] {
			ranked = append(ranked, d)
			seen[id] = true
		}
	}
	if len(ranked) == 0 {
		return docs
	}
	// Anything the reranker dropped keeps its dense position at the tail.
	for _, d := range docs {
		if !seen[d.ID] {
			ranked = append(ranked, d)
		}
	}
	return ranked
}

// summarise compresses a long context. Failure keeps the original content.
func (s *Service) summarise(ctx context.Context, content string) string {
	if s.aux == nil {
		return content
	}
	summary, err := s.aux.Complete(ctx, summariseSystemPrompt, content)
	if err != nil || strings.TrimSpace(summary) == "" {
		if err != nil && s.logger != nil {
			s.logger.Warn(ctx, "summarise call failed, keeping original content", "error", err)
		}
		return content
	}
	return strings.TrimSpace(summary)
}

// extractJSONArray strips code fences and surrounding prose around a JSON
// array.
func extractJSONArray(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```json")
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	reply = strings.TrimSpace(reply)
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start >= 0 && end > start {
		return reply[start : end+1]
	}
	return reply
}
