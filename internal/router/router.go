// Package router scores the models a user can access against the analysed
// prompt requirements and picks one, or up to two for comparison. Routing
// never fails a request: every failure path degrades to the configured
// default model.
package router

import (
	"context"
	"math"
	"sort"

	"github.com/chorushq/chorus/internal/catalog"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/pkg/models"
)

const (
	// MaxComparisonModels caps how many models a comparison run may invoke.
	MaxComparisonModels = 2

	// ComparisonScoreThreshold is how far behind the top score a secondary
	// model may be and still qualify for comparison.
	ComparisonScoreThreshold = 3.0
)

// Weights tune the scoring terms.
type Weights struct {
	Complexity float64
	Budget     float64
	CostEff    float64
	Reliab     float64
	Speed      float64
	Multi      float64
	Capability float64
}

// DefaultWeights are the production weights.
func DefaultWeights() Weights {
	return Weights{
		Complexity: 2,
		Budget:     3,
		CostEff:    2,
		Reliab:     1,
		Speed:      1,
		Multi:      5,
		Capability: 4,
	}
}

// Router selects models for prompts.
type Router struct {
	catalog      *catalog.Catalog
	weights      Weights
	defaultModel string
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// New creates a router. defaultModel is the guaranteed fallback.
func New(cat *catalog.Catalog, defaultModel string, logger *observability.Logger, metrics *observability.Metrics) *Router {
	return &Router{
		catalog:      cat,
		weights:      DefaultWeights(),
		defaultModel: defaultModel,
		logger:       logger,
		metrics:      metrics,
	}
}

// Score computes the routing score of one model against the requirements.
// Missing critical capabilities score negative infinity; a blown budget or
// an empty required-capability list scores zero.
func Score(m *models.ModelDescriptor, r *models.PromptRequirements, w Weights) float64 {
	for _, critical := range r.CriticalCapabilities {
		if !m.HasStrength(critical) {
			return math.Inf(-1)
		}
	}
	if r.BudgetConstraint > 0 && r.EstimatedCost(m) > r.BudgetConstraint {
		return 0
	}
	if len(r.RequiredCapabilities) == 0 {
		return 0
	}

	matched := 0
	for _, cap := range r.RequiredCapabilities {
		if m.HasStrength(cap) {
			matched++
		}
	}

	score := w.Complexity * math.Max(0, 5-math.Abs(float64(r.ExpectedComplexity-m.ContextComplexity)))
	if r.BudgetConstraint > 0 {
		score += w.Budget * math.Max(0, 1-r.EstimatedCost(m)/r.BudgetConstraint)
	}
	score += w.CostEff * (1 / (1 + 10*m.CombinedCost()))
	score += w.Reliab * float64(m.Reliability)
	score += w.Speed * float64(6-m.Speed)
	if r.HasImages && m.Multimodal {
		score += w.Multi
	}
	score += w.Capability * float64(matched) / float64(len(r.RequiredCapabilities))
	return score
}

// Scored pairs a model with its routing score, for ranking and diagnostics.
type Scored struct {
	Model *models.ModelDescriptor
	Score float64
}

// Rank scores and orders the candidates. Ties prefer router-included
// models, then lower combined cost, then the alphabetically first name.
func Rank(candidates []*models.ModelDescriptor, r *models.PromptRequirements, w Weights) []Scored {
	scored := make([]Scored, 0, len(candidates))
	for _, m := range candidates {
		scored = append(scored, Scored{Model: m, Score: Score(m, r, w)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Model.IncludedInRouter != b.Model.IncludedInRouter {
			return a.Model.IncludedInRouter
		}
		if ac, bc := a.Model.CombinedCost(), b.Model.CombinedCost(); ac != bc {
			return ac < bc
		}
		return a.Model.Name < b.Model.Name
	})
	return scored
}

// SelectModel returns the best-scoring accessible model, or the default
// model when nothing scores above zero. It always returns a non-empty
// name.
func (rt *Router) SelectModel(ctx context.Context, userID uint64, r *models.PromptRequirements) string {
	picks := rt.SelectMultipleModels(ctx, userID, r)
	return picks[0]
}

// SelectMultipleModels returns the top model, plus a second for comparison
// when the prompt is complex and open-ended. The second model prefers a
// different provider and must score within ComparisonScoreThreshold of the
// top.
func (rt *Router) SelectMultipleModels(ctx context.Context, userID uint64, r *models.PromptRequirements) []string {
	if r == nil {
		return rt.fallback(ctx, "missing requirements")
	}

	candidates := rt.candidates(ctx, userID)
	if len(candidates) == 0 {
		return rt.fallback(ctx, "no accessible router models")
	}

	ranked := Rank(candidates, r, rt.weights)
	top := ranked[0]
	if top.Score <= 0 {
		rt.record(rt.defaultModel, "default")
		return []string{rt.defaultModel}
	}
	rt.record(top.Model.Name, "scored")

	picks := []string{top.Model.Name}
	if !shouldCompare(r) {
		return picks
	}

	if second := comparisonPartner(ranked); second != "" {
		rt.record(second, "comparison")
		picks = append(picks, second)
	}
	return picks
}

// candidates intersects the router-included catalog with the user's
// accessible models.
func (rt *Router) candidates(ctx context.Context, userID uint64) []*models.ModelDescriptor {
	accessible := rt.catalog.FilterModelsForUserAccess(ctx, userID)
	allowed := make(map[string]bool, len(accessible))
	for _, m := range accessible {
		allowed[m.Name] = true
	}

	var out []*models.ModelDescriptor
	for _, m := range rt.catalog.RouterModels() {
		if allowed[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

// shouldCompare decides whether the prompt warrants a second opinion.
func shouldCompare(r *models.PromptRequirements) bool {
	if r.ExpectedComplexity < 3 {
		return false
	}
	for _, cap := range r.RequiredCapabilities {
		switch cap {
		case "general_knowledge", "creative", "reasoning":
			return true
		}
	}
	return false
}

// comparisonPartner picks the best runner-up from a different provider
// whose score is within the comparison threshold of the top model. Returns
// empty when no runner-up qualifies.
func comparisonPartner(ranked []Scored) string {
	top := ranked[0]
	for _, s := range ranked[1:] {
		if s.Score <= 0 || top.Score-s.Score > ComparisonScoreThreshold {
			break
		}
		if s.Model.Provider != top.Model.Provider {
			return s.Model.Name
		}
	}
	return ""
}

func (rt *Router) fallback(ctx context.Context, reason string) []string {
	if rt.logger != nil {
		rt.logger.Error(ctx, "routing degraded to default model", "reason", reason, "model", rt.defaultModel)
	}
	rt.record(rt.defaultModel, "fallback")
	return []string{rt.defaultModel}
}

func (rt *Router) record(model, reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRouterDecision(model, reason)
	}
}
