package history

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	for _, content := range []string{"first", "second", "third"} {
		if err := s.SaveTurn(ctx, TurnRecord{ChatID: "c1", UserID: "u1", Role: "user", Content: content}); err != nil {
			t.Fatalf("SaveTurn() error = %v", err)
		}
	}

	got, err := s.RecentTurns(ctx, "c1", 2)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "second" || got[1].Content != "third" {
		t.Fatalf("unexpected recency window: %+v", got)
	}
	if got[0].ID == "" {
		t.Fatalf("record ID should be assigned on save")
	}
}

func TestInMemoryStoreDeleteChat(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	if err := s.SaveTurn(ctx, TurnRecord{ChatID: "c1", Role: "assistant", Content: "bye"}); err != nil {
		t.Fatalf("SaveTurn() error = %v", err)
	}
	if err := s.DeleteChat(ctx, "c1"); err != nil {
		t.Fatalf("DeleteChat() error = %v", err)
	}
	got, err := s.RecentTurns(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len = %d, want 0 after delete", len(got))
	}
}
