// Package rag implements retrieval-augmented prompting: embedding
// generation, vector storage, namespace scoping, and the augment pipeline
// (retrieve, rerank, summarise, format).
package rag

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// Document is a retrievable knowledge item.
type Document struct {
	ID       string         `json:"id"`
	Type     string         `json:"type,omitempty"`
	Title    string         `json:"title,omitempty"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float32        `json:"score,omitempty"`
}

// Record is a stored embedding.
type Record struct {
	ID       string
	Type     string
	Title    string
	Content  string
	Metadata map[string]any
	Vector   []float32
}

// SearchOptions bound a similarity search.
type SearchOptions struct {
	// TopK is the number of documents to keep. Zero means derive from the
	// query length.
	TopK int

	// ScoreThreshold filters weak matches. Zero means the default 0.7.
	ScoreThreshold float32

	// Namespace scopes the search. Empty means derive from the caller.
	Namespace string

	// Type filters matches by record type when set.
	Type string

	// RerankCandidates is the retrieval width before reranking. Zero
	// means the default 10.
	RerankCandidates int
}

// DefaultScoreThreshold filters out weak dense matches.
const DefaultScoreThreshold = 0.7

// DefaultRerankCandidates is the retrieval width before reranking.
const DefaultRerankCandidates = 10

// SummaryThreshold is the content length above which a kept context is
// summarised before injection.
const SummaryThreshold = 750

// PublicNamespace holds shared knowledge.
const PublicNamespace = "kb"

var (
	userKBPattern     = regexp.MustCompile(`^user_kb_(\d+)$`)
	userMemoryPattern = regexp.MustCompile(`^memory_user_(\d+)$`)
)

// UserNamespace returns the per-user knowledge base namespace.
func UserNamespace(userID uint64) string {
	return fmt.Sprintf("user_kb_%d", userID)
}

// EffectiveNamespace resolves the namespace a caller may actually use. An
// explicit user-scoped namespace naming a different user is downgraded to
// the public namespace; an empty namespace derives the caller's own
// namespace, or the public one for anonymous callers.
func EffectiveNamespace(requested string, userID uint64) string {
	if requested == "" {
		if userID == 0 {
			return PublicNamespace
		}
		return UserNamespace(userID)
	}
	for _, pattern := range []*regexp.Regexp{userKBPattern, userMemoryPattern} {
		if m := pattern.FindStringSubmatch(requested); m != nil {
			owner, err := strconv.ParseUint(m[1], 10, 64)
			if err != nil || owner != userID {
				return PublicNamespace
			}
			return requested
		}
	}
	return requested
}

// Embedder converts text into dense vectors.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is one scored vector-store hit.
type Match struct {
	ID       string
	Score    float32
	Type     string
	Title    string
	Content  string
	Metadata map[string]any
}

// VectorStore is the storage behind retrieval.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, records []Record) error
	Delete(ctx context.Context, namespace string, ids []string) error
	Search(ctx context.Context, namespace string, vector []float32, limit int, threshold float32, typeFilter string) ([]Match, error)
}

// Completer is the small-model surface used for reranking and
// summarisation.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}
