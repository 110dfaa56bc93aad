package usage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/pkg/models"
)

func freeUser() *models.User { return &models.User{ID: 7, Plan: models.PlanFree} }
func proUser() *models.User  { return &models.User{ID: 8, Plan: models.PlanPro} }

func TestCheckLimitsNilUserNoop(t *testing.T) {
	m := NewManager(cache.NewMemory(), nil)
	if err := m.CheckLimits(context.Background(), nil, ""); err != nil {
		t.Fatalf("nil user should pass: %v", err)
	}
}

func TestMessageQuotaEnforced(t *testing.T) {
	m := NewManager(cache.NewMemory(), nil)
	ctx := context.Background()
	user := freeUser()

	for i := 0; i < FreeMonthlyMessages; i++ {
		m.IncrementByModel(ctx, user, "mistral-large")
	}
	err := m.CheckLimits(ctx, user, "")
	if !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if kind := errs.KindOf(err); kind != errs.KindQuotaExceeded {
		t.Fatalf("kind = %v, want quota_exceeded", kind)
	}
}

func TestProQuotaHigher(t *testing.T) {
	m := NewManager(cache.NewMemory(), nil)
	ctx := context.Background()
	user := proUser()

	for i := 0; i < FreeMonthlyMessages; i++ {
		m.IncrementByModel(ctx, user, "gpt-4o")
	}
	if err := m.CheckLimits(ctx, user, ""); err != nil {
		t.Fatalf("pro user under quota should pass: %v", err)
	}
}

func TestToolSpendCapFreeOnly(t *testing.T) {
	m := NewManager(cache.NewMemory(), nil)
	ctx := context.Background()
	free, pro := freeUser(), proUser()

	for i := 0; i < 4; i++ {
		m.IncrementFunctionUsage(ctx, free, "premium", false, 0.3)
		m.IncrementFunctionUsage(ctx, pro, "premium", true, 0.3)
	}

	if err := m.CheckLimits(ctx, free, "premium"); !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("free tool spend cap not enforced: %v", err)
	}
	if err := m.CheckLimits(ctx, pro, "premium"); err != nil {
		t.Fatalf("pro user should be uncapped on spend: %v", err)
	}
	// The message check alone still passes for the free user.
	if err := m.CheckLimits(ctx, free, ""); err != nil {
		t.Fatalf("message-only check should pass: %v", err)
	}
}

func TestCountersRollOverByMonth(t *testing.T) {
	m := NewManager(cache.NewMemory(), nil)
	ctx := context.Background()
	user := freeUser()

	m.now = func() time.Time { return time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) }
	for i := 0; i < FreeMonthlyMessages; i++ {
		m.IncrementByModel(ctx, user, "m")
	}
	if err := m.CheckLimits(ctx, user, ""); err == nil {
		t.Fatal("january quota should be exhausted")
	}

	m.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }
	if err := m.CheckLimits(ctx, user, ""); err != nil {
		t.Fatalf("february should start fresh: %v", err)
	}
}

func TestBrokenCachePassesCheck(t *testing.T) {
	m := NewManager(brokenCache{}, nil)
	ctx := context.Background()
	user := freeUser()

	m.IncrementByModel(ctx, user, "m") // must not panic
	if err := m.CheckLimits(ctx, user, ""); err != nil {
		t.Fatalf("cache failure must not block the request: %v", err)
	}
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("backend down")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("backend down")
}
func (brokenCache) Delete(context.Context, string) error { return errors.New("backend down") }
func (brokenCache) Has(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}
