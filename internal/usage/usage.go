// Package usage enforces monthly message quotas and records per-model and
// per-tool consumption. Counters live in the shared cache under monthly
// keys; enforcement is best-effort in the face of cache failures except for
// the explicit limit check, which fails closed only on a genuine quota hit.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/observability"
	"github.com/chorushq/chorus/pkg/models"
)

// Monthly plan limits.
const (
	FreeMonthlyMessages = 200
	ProMonthlyMessages  = 5000

	// FreeMonthlyToolSpend caps the accumulated tool costPerCall for free
	// users. Pro users are uncapped on spend.
	FreeMonthlyToolSpend = 1.0

	counterTTL = 35 * 24 * time.Hour
)

// Manager tracks and enforces usage.
type Manager struct {
	cache  cache.Cache
	logger *observability.Logger
	now    func() time.Time
}

// NewManager creates a usage manager over the shared cache.
func NewManager(c cache.Cache, logger *observability.Logger) *Manager {
	return &Manager{cache: c, logger: logger, now: time.Now}
}

// counters is the per-user monthly record.
type counters struct {
	Messages  int            `json:"messages"`
	ByModel   map[string]int `json:"by_model,omitempty"`
	ByTool    map[string]int `json:"by_tool,omitempty"`
	ToolSpend float64        `json:"tool_spend"`
}

func (m *Manager) key(userID uint64) string {
	month := m.now().UTC().Format("2006-01")
	return cache.Key("usage", fmt.Sprintf("%d", userID), month)
}

func (m *Manager) load(ctx context.Context, userID uint64) counters {
	c, _ := cache.GetJSON[counters](ctx, m.cache, m.key(userID))
	return c
}

func (m *Manager) store(ctx context.Context, userID uint64, c counters) {
	cache.SetJSON(ctx, m.cache, m.key(userID), c, counterTTL)
}

// messageLimit returns the monthly message allowance for the plan.
func messageLimit(user *models.User) int {
	if user.IsPro() {
		return ProMonthlyMessages
	}
	return FreeMonthlyMessages
}

// CheckLimits verifies the user may send another message (and, when
// toolType is non-empty, invoke another tool). A nil user is a no-op.
// Returns QuotaExceeded on a hit; cache failures pass the check.
func (m *Manager) CheckLimits(ctx context.Context, user *models.User, toolType string) error {
	if user == nil {
		return nil
	}
	c := m.load(ctx, user.ID)
	limit := messageLimit(user)
	if c.Messages >= limit {
		return errs.New(errs.KindQuotaExceeded, "monthly message limit of %d reached: %w", limit, errs.ErrQuotaExceeded)
	}
	if toolType != "" && !user.IsPro() && c.ToolSpend >= FreeMonthlyToolSpend {
		return errs.New(errs.KindQuotaExceeded, "monthly tool budget exhausted: %w", errs.ErrQuotaExceeded)
	}
	return nil
}

// IncrementByModel records one message against the user and model.
// Best-effort: failures are logged, never raised.
func (m *Manager) IncrementByModel(ctx context.Context, user *models.User, model string) {
	if user == nil {
		return
	}
	c := m.load(ctx, user.ID)
	c.Messages++
	if model != "" {
		if c.ByModel == nil {
			c.ByModel = make(map[string]int)
		}
		c.ByModel[model]++
	}
	m.store(ctx, user.ID, c)
}

// IncrementFunctionUsage records one tool invocation and its cost.
// Best-effort: failures are logged, never raised.
func (m *Manager) IncrementFunctionUsage(ctx context.Context, user *models.User, toolType string, isPro bool, costPerCall float64) {
	if user == nil {
		return
	}
	c := m.load(ctx, user.ID)
	if c.ByTool == nil {
		c.ByTool = make(map[string]int)
	}
	c.ByTool[toolType]++
	if !isPro {
		c.ToolSpend += costPerCall
	}
	m.store(ctx, user.ID, c)
}

// Snapshot returns the current month's counters, for status surfaces.
func (m *Manager) Snapshot(ctx context.Context, userID uint64) (messages int, toolSpend float64) {
	c := m.load(ctx, userID)
	return c.Messages, c.ToolSpend
}
