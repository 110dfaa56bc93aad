// Package analyser classifies a prompt into the requirements the router
// scores against: expected complexity, capability needs, token estimates,
// and comparison hints.
package analyser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/pkg/models"
)

// ErrInvalidAIAnalysis marks an auxiliary-model reply that cannot be used:
// parseable JSON but missing the capability lists.
var ErrInvalidAIAnalysis = errors.New("invalid AI analysis")

// Completer is the auxiliary-model surface the analyser calls.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Analyser classifies prompts with a deterministic keyword pass plus an
// auxiliary-model pass.
type Analyser struct {
	aux          Completer
	capabilities []string
	tools        []string
	logger       *observability.Logger
}

// New creates an analyser. capabilities and tools bound what the auxiliary
// model may claim.
func New(aux Completer, capabilities, tools []string, logger *observability.Logger) *Analyser {
	return &Analyser{aux: aux, capabilities: capabilities, tools: tools, logger: logger}
}

// categoryLexicons drive the deterministic keyword pass.
var categoryLexicons = map[string][]string{
	"coding":            {"code", "function", "bug", "compile", "debug", "program", "script", "refactor", "api", "golang", "python", "javascript"},
	"reasoning":         {"why", "explain", "analyze", "compare", "evaluate", "prove", "logic", "reason", "step by step"},
	"creative":          {"write", "story", "poem", "creative", "imagine", "fiction", "lyrics", "brainstorm"},
	"math":              {"calculate", "equation", "solve", "integral", "derivative", "probability", "algebra"},
	"summarisation":     {"summarize", "summarise", "tldr", "shorten", "condense", "key points"},
	"general_knowledge": {"what is", "who is", "when did", "where is", "history of", "define"},
	"vision":            {"image", "picture", "photo", "screenshot", "diagram"},
	"analysis":          {"data", "dataset", "trend", "statistics", "report", "insight"},
}

// EstimateTokens is the chars/4 heuristic used when the auxiliary model
// does not supply estimates.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// Analyze produces the prompt requirements. The keyword pass always runs;
// the auxiliary-model pass refines it and its failure modes surface so the
// router can degrade to the default model.
func (a *Analyser) Analyze(ctx context.Context, prompt string, attachments []models.Attachment, budget float64, user *models.User) (*models.PromptRequirements, error) {
	req := &models.PromptRequirements{
		ExpectedComplexity:    1,
		EstimatedInputTokens:  EstimateTokens(prompt),
		EstimatedOutputTokens: EstimateTokens(prompt),
		BudgetConstraint:      budget,
	}
	for _, att := range attachments {
		switch att.Type {
		case models.AttachmentImage:
			req.HasImages = true
		case models.AttachmentDocument:
			req.HasDocuments = true
		}
	}

	keywordHits := a.keywordCategories(prompt)

	aiResult, err := a.askAuxModel(ctx, prompt)
	if err != nil {
		return nil, err
	}

	req.ExpectedComplexity = clamp(aiResult.ExpectedComplexity, 1, 5)
	if aiResult.EstimatedInputTokens > 0 {
		req.EstimatedInputTokens = aiResult.EstimatedInputTokens
	}
	if aiResult.EstimatedOutputTokens > 0 {
		req.EstimatedOutputTokens = aiResult.EstimatedOutputTokens
	}
	req.NeedsFunctions = aiResult.NeedsFunctions
	req.BenefitsFromMultipleModels = aiResult.BenefitsFromMultipleModels
	req.ModelComparisonReason = aiResult.ModelComparisonReason

	req.RequiredCapabilities = mergeCapabilities(keywordHits, aiResult.RequiredCapabilities)
	req.CriticalCapabilities = dedupe(aiResult.CriticalCapabilities)
	if req.HasImages && !contains(req.CriticalCapabilities, "vision") {
		req.CriticalCapabilities = append(req.CriticalCapabilities, "vision")
	}

	return req, nil
}

// keywordCategories returns the lexicon categories the prompt hits. On
// zero hits it falls back to naive token matching against every lexicon
// word.
func (a *Analyser) keywordCategories(prompt string) []string {
	lower := strings.ToLower(prompt)
	var hits []string
	for category, words := range categoryLexicons {
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits = append(hits, category)
				break
			}
		}
	}
	if len(hits) == 0 {
		tokens := strings.Fields(lower)
		for category, words := range categoryLexicons {
			for _, token := range tokens {
				if contains(words, token) {
					hits = append(hits, category)
					break
				}
			}
		}
	}
	sort.Strings(hits)
	return hits
}

// aiAnalysis is the JSON object the auxiliary model must produce.
type aiAnalysis struct {
	ExpectedComplexity         int      `json:"expected_complexity"`
	RequiredCapabilities       []string `json:"required_capabilities"`
	CriticalCapabilities       []string `json:"critical_capabilities"`
	EstimatedInputTokens       int      `json:"estimated_input_tokens"`
	EstimatedOutputTokens      int      `json:"estimated_output_tokens"`
	NeedsFunctions             bool     `json:"needs_functions"`
	BenefitsFromMultipleModels bool     `json:"benefits_from_multiple_models"`
	ModelComparisonReason      string   `json:"model_comparison_reason"`
}

func (a *Analyser) askAuxModel(ctx context.Context, prompt string) (*aiAnalysis, error) {
	system := fmt.Sprintf(`You classify chat prompts for model routing.
Respond with a single JSON object with these fields:
expected_complexity (1-5), required_capabilities (array),
critical_capabilities (array, may be empty), estimated_input_tokens,
estimated_output_tokens, needs_functions (bool),
benefits_from_multiple_models (bool), model_comparison_reason (string).
Capabilities must come from: %s.
Available tools: %s.
Respond with JSON only.`,
		strings.Join(a.capabilities, ", "), strings.Join(a.tools, ", "))

	reply, err := a.aux.Complete(ctx, system, prompt)
	if err != nil {
		return nil, fmt.Errorf("prompt analysis call: %w", err)
	}

	raw, err := ExtractJSONObject(reply)
	if err != nil {
		return nil, fmt.Errorf("prompt analysis response: %w", err)
	}
	var out aiAnalysis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("prompt analysis response: %w", err)
	}
	if out.RequiredCapabilities == nil || out.CriticalCapabilities == nil {
		return nil, fmt.Errorf("capability lists missing: %w", ErrInvalidAIAnalysis)
	}
	return &out, nil
}

func mergeCapabilities(keyword, ai []string) []string {
	return dedupe(append(append([]string{}, keyword...), ai...))
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(strings.ToLower(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
