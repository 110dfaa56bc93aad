package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/chorushq/chorus/pkg/models"
)

func TestMemoryStoreConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv := &models.Conversation{ID: "c1", OwnerUserID: 7, Title: "New Conversation"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.CreateConversation(ctx, conv); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate, got %v", err)
	}

	got, err := s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.OwnerUserID != 7 || got.Title != "New Conversation" {
		t.Fatalf("unexpected conversation: %+v", got)
	}

	got.Title = "Renamed"
	got.OwnerUserID = 99 // must be ignored on update
	if err := s.UpdateConversation(ctx, got); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	got, err = s.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConversation after update: %v", err)
	}
	if got.Title != "Renamed" {
		t.Fatalf("title not updated: %q", got.Title)
	}
	if got.OwnerUserID != 7 {
		t.Fatalf("owner changed on update: %d", got.OwnerUserID)
	}

	if err := s.DeleteConversation(ctx, "c1"); err != nil {
		t.Fatalf("DeleteConversation: %v", err)
	}
	if _, err := s.GetConversation(ctx, "c1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreMessageOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateConversation(ctx, &models.Conversation{ID: "c1", OwnerUserID: 1}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	ids := []string{"m1", "m2", "m3", "m4"}
	for _, id := range ids {
		msg := &models.Message{ID: id, ConversationID: "c1", Role: models.RoleUser, Content: id}
		if err := s.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("InsertMessage %s: %v", id, err)
		}
	}

	msgs, err := s.ListMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != len(ids) {
		t.Fatalf("expected %d messages, got %d", len(ids), len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if !msgs[i].Timestamp.After(msgs[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing at %d: %v vs %v",
				i, msgs[i-1].Timestamp, msgs[i].Timestamp)
		}
	}
	for i, msg := range msgs {
		if msg.ID != ids[i] {
			t.Fatalf("insertion order broken at %d: got %s want %s", i, msg.ID, ids[i])
		}
	}
}

func TestMemoryStoreMessageRequiresConversation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.InsertMessage(ctx, &models.Message{ID: "m1", ConversationID: "missing", Role: models.RoleUser})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreShareLookup(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	private := &models.Conversation{ID: "c1", OwnerUserID: 1, ShareID: "s1", IsPublic: false}
	public := &models.Conversation{ID: "c2", OwnerUserID: 1, ShareID: "s2", IsPublic: true}
	for _, c := range []*models.Conversation{private, public} {
		if err := s.CreateConversation(ctx, c); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}

	if _, err := s.GetConversationByShareID(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("private conversation should not resolve via share id, got %v", err)
	}
	got, err := s.GetConversationByShareID(ctx, "s2")
	if err != nil {
		t.Fatalf("GetConversationByShareID: %v", err)
	}
	if got.ID != "c2" {
		t.Fatalf("wrong conversation: %s", got.ID)
	}
}

func TestMemoryStoreListConversationsPagination(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.CreateConversation(ctx, &models.Conversation{ID: id, OwnerUserID: 5}); err != nil {
			t.Fatalf("CreateConversation: %v", err)
		}
	}
	if err := s.CreateConversation(ctx, &models.Conversation{ID: "other", OwnerUserID: 6}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	page, err := s.ListConversations(ctx, 5, 2, 0)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(page))
	}
	rest, err := s.ListConversations(ctx, 5, 2, 2)
	if err != nil {
		t.Fatalf("ListConversations offset: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected 1 conversation on second page, got %d", len(rest))
	}
}

func TestMemoryStoreAgentsByRole(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.PutAgent(ctx, &models.Agent{ID: "a1", UserID: 3, Name: "Reviewer", Role: "code-reviewer"}); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}

	got, err := s.GetAgentByRole(ctx, 3, "Code-Reviewer")
	if err != nil {
		t.Fatalf("GetAgentByRole: %v", err)
	}
	if got.ID != "a1" {
		t.Fatalf("wrong agent: %s", got.ID)
	}
	if _, err := s.GetAgentByRole(ctx, 4, "code-reviewer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("role lookup should be scoped to the owner, got %v", err)
	}
}
