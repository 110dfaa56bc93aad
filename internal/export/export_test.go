package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/chorushq/chorus/internal/storage"
	"github.com/chorushq/chorus/pkg/models"
)

func seededStore(t *testing.T) storage.Store {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()

	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := store.CreateConversation(ctx, &models.Conversation{
		ID:          "conv-1",
		OwnerUserID: 1,
		Title:       "Trip, planning",
		CreatedAt:   created,
	}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	messages := []*models.Message{
		{ID: "m1", ConversationID: "conv-1", Role: models.RoleUser, Content: "where to?", Timestamp: created.Add(time.Minute)},
		{ID: "m2", ConversationID: "conv-1", Role: models.RoleAssistant, Content: "Lisbon,\nor \"Porto\"", Model: "free-model", Timestamp: created.Add(2 * time.Minute)},
	}
	for _, m := range messages {
		if err := store.InsertMessage(ctx, m); err != nil {
			t.Fatalf("InsertMessage: %v", err)
		}
	}
	return store
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := New(seededStore(t), nil).WriteCSV(context.Background(), &buf, 1); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out := buf.Bytes()

	if !bytes.HasPrefix(out, []byte{0xEF, 0xBB, 0xBF}) {
		t.Fatal("missing UTF-8 BOM")
	}

	lines := strings.SplitN(string(out[3:]), "\r\n", 2)
	if lines[0] != header {
		t.Fatalf("header = %q", lines[0])
	}

	rows, err := csv.NewReader(strings.NewReader(lines[1])).ReadAll()
	if err != nil {
		t.Fatalf("parse body: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	first := rows[0]
	if first[0] != "conv-1" || first[1] != "Trip, planning" || first[4] != "user" {
		t.Fatalf("first row = %v", first)
	}
	second := rows[1]
	if second[5] != "Lisbon,\nor \"Porto\"" {
		t.Fatalf("quoting lost: %q", second[5])
	}
	if second[7] != "free-model" {
		t.Fatalf("model column = %q", second[7])
	}
	if second[6] != "2026-02-01T10:02:00Z" {
		t.Fatalf("timestamp = %q", second[6])
	}
}

func TestWriteCSVEmptyHistory(t *testing.T) {
	var buf bytes.Buffer
	if err := New(storage.NewMemoryStore(), nil).WriteCSV(context.Background(), &buf, 42); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := string([]byte{0xEF, 0xBB, 0xBF}) + header + "\r\n"
	if buf.String() != want {
		t.Fatalf("empty export = %q", buf.String())
	}
}

func TestWriteCSVOnlyOwnConversations(t *testing.T) {
	store := seededStore(t)
	ctx := context.Background()
	if err := store.CreateConversation(ctx, &models.Conversation{ID: "conv-x", OwnerUserID: 2, Title: "Other"}); err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	var buf bytes.Buffer
	if err := New(store, nil).WriteCSV(ctx, &buf, 1); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if strings.Contains(buf.String(), "conv-x") {
		t.Fatal("foreign conversation exported")
	}
}
