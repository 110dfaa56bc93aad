package conversation

import (
	"context"
	"errors"
	"testing"

	"github.com/chorushq/chorus/internal/cache"
	"github.com/chorushq/chorus/internal/errs"
	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/internal/usage"
	"github.com/chorushq/chorus/pkg/models"
)

func newManager(t *testing.T, user *models.User) (*Manager, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	usg := usage.NewManager(cache.NewMemory(), nil)
	return NewManager(store, usg, nil, Options{User: user, Store: true}), store
}

func TestAddCreatesConversation(t *testing.T) {
	ctx := context.Background()
	owner := &models.User{ID: 1, Plan: models.PlanFree}
	m, store := newManager(t, owner)

	msg := &models.Message{Role: models.RoleUser, Content: "hi"}
	if err := m.Add(ctx, "conv-1", msg); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("message id not assigned")
	}

	conv, err := store.GetConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if conv.Title != DefaultTitle || conv.OwnerUserID != 1 {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.MessageCount != 1 || conv.LastMessageID != msg.ID {
		t.Fatalf("bookkeeping not updated: %+v", conv)
	}
}

func TestAddRequiresUser(t *testing.T) {
	m, _ := newManager(t, nil)
	err := m.Add(context.Background(), "conv-1", &models.Message{Role: models.RoleUser, Content: "hi"})
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestAddForeignConversationForbidden(t *testing.T) {
	ctx := context.Background()
	owner := &models.User{ID: 1}
	m, store := newManager(t, owner)
	if err := m.Add(ctx, "conv-1", &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	intruder := NewManager(store, nil, nil, Options{User: &models.User{ID: 2}, Store: true})
	err := intruder.Add(ctx, "conv-1", &models.Message{Role: models.RoleUser, Content: "sneak"})
	if !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	if _, err := intruder.Get(ctx, "conv-1", nil); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("Get err = %v, want ErrForbidden", err)
	}
	if _, err := intruder.ShareConversation(ctx, "conv-1"); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("Share err = %v, want ErrForbidden", err)
	}
	archived := true
	if _, err := intruder.UpdateConversation(ctx, "conv-1", Update{Archived: &archived}); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("Update err = %v, want ErrForbidden", err)
	}
}

func TestGetReturnsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &models.User{ID: 1})

	contents := []string{"one", "two", "three"}
	for _, c := range contents {
		if err := m.Add(ctx, "conv-1", &models.Message{Role: models.RoleUser, Content: c}); err != nil {
			t.Fatalf("Add(%q): %v", c, err)
		}
	}

	msgs, err := m.Get(ctx, "conv-1", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, c := range contents {
		if msgs[i].Content != c {
			t.Errorf("msgs[%d] = %q, want %q", i, msgs[i].Content, c)
		}
	}
}

func TestEphemeralManagerEchoesInline(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, nil, nil, Options{User: &models.User{ID: 1}, Store: false})

	inline := &models.Message{Role: models.RoleUser, Content: "ephemeral"}
	msgs, err := m.Get(context.Background(), "does-not-exist", inline)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(msgs) != 1 || msgs[0] != inline {
		t.Fatalf("expected inline echo, got %v", msgs)
	}

	// Add assigns an id but persists nothing.
	msg := &models.Message{Role: models.RoleUser, Content: "hi"}
	if err := m.Add(context.Background(), "conv-x", msg); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("id not assigned")
	}
	if _, err := store.GetConversation(context.Background(), "conv-x"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatal("ephemeral add must not persist")
	}
}

func TestShareConversationStable(t *testing.T) {
	ctx := context.Background()
	m, store := newManager(t, &models.User{ID: 1})
	if err := m.Add(ctx, "conv-1", &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	first, err := m.ShareConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ShareConversation: %v", err)
	}
	second, err := m.ShareConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("ShareConversation: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("share id not stable: %q vs %q", first, second)
	}

	conv, err := store.GetConversationByShareID(ctx, first)
	if err != nil {
		t.Fatalf("GetConversationByShareID: %v", err)
	}
	if !conv.IsPublic {
		t.Fatal("shared conversation not public")
	}
}

func TestUpdateConversationFields(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager(t, &models.User{ID: 1})
	if err := m.Add(ctx, "conv-1", &models.Message{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	title := "Renamed"
	archived := true
	conv, err := m.UpdateConversation(ctx, "conv-1", Update{Title: &title, Archived: &archived})
	if err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	if conv.Title != "Renamed" || !conv.IsArchived {
		t.Fatalf("update not applied: %+v", conv)
	}

	empty := "   "
	if _, err := m.UpdateConversation(ctx, "conv-1", Update{Title: &empty}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("empty title err = %v, want ErrValidation", err)
	}
}

func TestCheckUsageLimitsDelegates(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: 1, Plan: models.PlanFree}
	m, _ := newManager(t, user)

	if err := m.CheckUsageLimits(ctx, ""); err != nil {
		t.Fatalf("fresh user should pass: %v", err)
	}
	for i := 0; i < usage.FreeMonthlyMessages; i++ {
		m.IncrementUsageByModel(ctx, "mistral-large")
	}
	if err := m.CheckUsageLimits(ctx, ""); !errors.Is(err, errs.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}

	// No user: silently passes.
	anon := NewManager(storage.NewMemoryStore(), usage.NewManager(cache.NewMemory(), nil), nil, Options{Store: true})
	if err := anon.CheckUsageLimits(ctx, ""); err != nil {
		t.Fatalf("anonymous check should pass: %v", err)
	}
}
