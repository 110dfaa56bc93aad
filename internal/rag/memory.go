package rag

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryVectorStore is an in-process VectorStore using cosine similarity.
// Suitable for tests and single-node development.
type MemoryVectorStore struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]Record
}

// NewMemoryVectorStore creates an empty in-memory store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{namespaces: make(map[string]map[string]Record)}
}

// Upsert implements VectorStore.
func (s *MemoryVectorStore) Upsert(_ context.Context, namespace string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	if ns == nil {
		ns = make(map[string]Record)
		s.namespaces[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = r
	}
	return nil
}

// Delete implements VectorStore.
func (s *MemoryVectorStore) Delete(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns := s.namespaces[namespace]
	for _, id := range ids {
		delete(ns, id)
	}
	return nil
}

// Search implements VectorStore.
func (s *MemoryVectorStore) Search(_ context.Context, namespace string, vector []float32, limit int, threshold float32, typeFilter string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Match
	for _, r := range s.namespaces[namespace] {
		if typeFilter != "" && r.Type != typeFilter {
			continue
		}
		score := cosine(vector, r.Vector)
		if score < threshold {
			continue
		}
		out = append(out, Match{
			ID: r.ID, Score: score, Type: r.Type,
			Title: r.Title, Content: r.Content, Metadata: r.Metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
