package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEffectiveNamespace(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		userID    uint64
		want      string
	}{
		{"empty anonymous", "", 0, "kb"},
		{"empty with user", "", 7, "user_kb_7"},
		{"own user namespace", "user_kb_7", 7, "user_kb_7"},
		{"foreign user namespace downgraded", "user_kb_8", 7, "kb"},
		{"foreign memory namespace downgraded", "memory_user_8", 7, "kb"},
		{"own memory namespace", "memory_user_7", 7, "memory_user_7"},
		{"anonymous user namespace downgraded", "user_kb_7", 0, "kb"},
		{"arbitrary namespace passes through", "kb", 7, "kb"},
		{"custom namespace passes through", "docs", 7, "docs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EffectiveNamespace(tt.requested, tt.userID); got != tt.want {
				t.Fatalf("EffectiveNamespace(%q, %d) = %q, want %q", tt.requested, tt.userID, got, tt.want)
			}
		})
	}
}

// fakeEmbedder maps known texts to fixed vectors.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := f.vectors[text]
		if !ok {
			v = []float32{0, 0, 1}
		}
		out[i] = v
	}
	return out, nil
}

// fakeCompleter scripts aux-model replies.
type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(context.Context, string, string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func seedStore(t *testing.T, store VectorStore, namespace string, docs ...Record) {
	t.Helper()
	if err := store.Upsert(context.Background(), namespace, docs); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestSearchSimilarRanksByScore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	seedStore(t, store, "kb",
		Record{ID: "near", Content: "close match", Vector: []float32{0.9, 0.1, 0}},
		Record{ID: "far", Content: "weak match", Vector: []float32{0.1, 0.9, 0}},
	)
	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewService(embedder, store, nil, nil)

	docs, err := svc.SearchSimilar(ctx, "query", SearchOptions{TopK: 5, ScoreThreshold: 0.05, Namespace: "kb"}, 0)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "near" {
		t.Fatalf("unexpected ranking: %+v", docs)
	}
}

func TestAugmentPromptNoHitsReturnsQuery(t *testing.T) {
	svc := NewService(&fakeEmbedder{}, NewMemoryVectorStore(), nil, nil)
	got := svc.AugmentPrompt(context.Background(), "what is chorus", SearchOptions{}, 0)
	if got != "what is chorus" {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestAugmentPromptFormatsContexts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	seedStore(t, store, "kb",
		Record{ID: "d1", Content: "chorus is a chat backend", Vector: []float32{1, 0, 0}},
	)
	embedder := &fakeEmbedder{vectors: map[string][]float32{"what is chorus": {1, 0, 0}}}
	svc := NewService(embedder, store, nil, nil)

	got := svc.AugmentPrompt(ctx, "what is chorus", SearchOptions{ScoreThreshold: 0.1}, 0)
	if !strings.HasPrefix(got, "Contexts (JSON array):") {
		t.Fatalf("missing contexts preamble: %q", got)
	}
	if !strings.Contains(got, "chorus is a chat backend") {
		t.Fatalf("context content missing: %q", got)
	}
	if !strings.Contains(got, `Answer the query "what is chorus" using *only* these contexts.`) {
		t.Fatalf("missing instruction suffix: %q", got)
	}
}

func TestAugmentPromptRerankFallsBackOnBadReply(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, Record{
			ID:      fmt.Sprintf("d%d", i),
			Content: fmt.Sprintf("passage %d", i),
			Vector:  []float32{1 - float32(i)*0.1, float32(i) * 0.1, 0},
		})
	}
	seedStore(t, store, "kb", records...)
	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"a long enough query to take three": {1, 0, 0},
	}}
	aux := &fakeCompleter{reply: "I cannot rank these."}
	svc := NewService(embedder, store, aux, nil)

	got := svc.AugmentPrompt(ctx, "a long enough query to take three", SearchOptions{ScoreThreshold: 0.1}, 0)
	if aux.calls == 0 {
		t.Fatal("reranker was never consulted")
	}
	// Dense order survives: d0 is the best match and must be present.
	if !strings.Contains(got, "passage 0") {
		t.Fatalf("dense-order fallback lost the top passage: %q", got)
	}
}

func TestAugmentPromptRerankReorders(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	seedStore(t, store, "kb",
		Record{ID: "a", Content: "alpha", Vector: []float32{1, 0, 0}},
		Record{ID: "b", Content: "bravo", Vector: []float32{0.9, 0.1, 0}},
	)
	embedder := &fakeEmbedder{vectors: map[string][]float32{"short q": {1, 0, 0}}}
	aux := &fakeCompleter{reply: `["b","a"]`}
	svc := NewService(embedder, store, aux, nil)

	// Short query keeps topK=1, so the reranker's first pick wins.
	got := svc.AugmentPrompt(ctx, "short q", SearchOptions{ScoreThreshold: 0.1}, 0)
	if !strings.Contains(got, "bravo") || strings.Contains(got, "alpha") {
		t.Fatalf("rerank order not applied: %q", got)
	}
}

// failingEmbedder simulates an embeddings outage.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embeddings down")
}

func TestAugmentPromptDegradesOnEmbedderError(t *testing.T) {
	svc := NewService(failingEmbedder{}, NewMemoryVectorStore(), nil, nil)
	got := svc.AugmentPrompt(context.Background(), "hello", SearchOptions{}, 0)
	if got != "hello" {
		t.Fatalf("expected original query on failure, got %q", got)
	}
}

func TestInsertDowngradesForeignNamespace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryVectorStore()
	svc := NewService(&fakeEmbedder{}, store, nil, nil)

	rec := Record{ID: "r1", Content: "secret", Vector: []float32{1, 0, 0}}
	if err := svc.Insert(ctx, []Record{rec}, "user_kb_99", 7); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	matches, err := store.Search(ctx, "kb", []float32{1, 0, 0}, 10, 0.1, "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("record should land in the public namespace, got %d matches", len(matches))
	}
	foreign, err := store.Search(ctx, "user_kb_99", []float32{1, 0, 0}, 10, 0.1, "")
	if err != nil {
		t.Fatalf("Search foreign: %v", err)
	}
	if len(foreign) != 0 {
		t.Fatal("record leaked into a foreign user namespace")
	}
}
