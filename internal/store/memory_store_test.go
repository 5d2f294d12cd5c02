package store

import (
	"context"
	"testing"
	"time"

	"chatwave/pkg/domain"
)

func TestMemoryStoreConversationPairUniqueness(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	first, err := m.CreateConversation(ctx, domain.Conversation{
		ID: "c1", ParticipantOne: "a", ParticipantTwo: "b",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// A second insert for the same pair resolves to the existing row.
	second, err := m.CreateConversation(ctx, domain.Conversation{
		ID: "c2", ParticipantOne: "a", ParticipantTwo: "b",
	})
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing conversation %s, got %s", first.ID, second.ID)
	}

	found, ok, err := m.FindConversationByPair(ctx, "a", "b")
	if err != nil || !ok || found.ID != "c1" {
		t.Errorf("find pair = %+v ok=%v err=%v", found, ok, err)
	}
	if _, ok, _ := m.FindConversationByPair(ctx, "b", "a"); ok {
		t.Error("reversed pair should not match; callers canonicalize first")
	}
}

func TestMemoryStoreStatusViewInsertOnce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	inserted, err := m.InsertStatusView(ctx, domain.StatusView{ID: "v1", StatusID: "s1", ViewerID: "bob"})
	if err != nil || !inserted {
		t.Fatalf("first insert = %v, %v", inserted, err)
	}
	inserted, err = m.InsertStatusView(ctx, domain.StatusView{ID: "v2", StatusID: "s1", ViewerID: "bob"})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if inserted {
		t.Error("second insert for the same pair should be a no-op")
	}
	if n, _ := m.CountStatusViews(ctx, "s1"); n != 1 {
		t.Errorf("view count = %d", n)
	}
	if viewed, _ := m.HasViewed(ctx, "s1", "bob"); !viewed {
		t.Error("HasViewed should report true")
	}
}

func TestMemoryStoreReactionUpsert(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	if err := m.UpsertStatusReaction(ctx, domain.StatusReaction{
		ID: "r1", StatusID: "s1", ReactorID: "bob", Emoji: "❤️",
	}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := m.UpsertStatusReaction(ctx, domain.StatusReaction{
		ID: "r2", StatusID: "s1", ReactorID: "bob", Emoji: "👍",
	}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	reactions, err := m.ListStatusReactions(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(reactions) != 1 {
		t.Fatalf("reaction count = %d", len(reactions))
	}
	if reactions[0].Emoji != "👍" || reactions[0].ID != "r1" {
		t.Errorf("reaction = %+v, want the original row with the new emoji", reactions[0])
	}
}

func TestMemoryStoreActiveStatusFiltering(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = m.SaveStatus(ctx, domain.Status{ID: "live", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)})
	_ = m.SaveStatus(ctx, domain.Status{ID: "dead", CreatedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(-time.Hour)})
	_ = m.SaveStatus(ctx, domain.Status{ID: "edge", CreatedAt: now.Add(-24 * time.Hour), ExpiresAt: now})

	active, err := m.ListActiveStatuses(ctx, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 1 || active[0].ID != "live" {
		t.Errorf("active = %+v, want only the unexpired status", active)
	}
}

func TestMemoryStoreMessagesOrdered(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	_ = m.AppendMessage(ctx, domain.Message{ID: "m2", ConversationID: "c", CreatedAt: base.Add(time.Minute)})
	_ = m.AppendMessage(ctx, domain.Message{ID: "m1", ConversationID: "c", CreatedAt: base})

	msgs, err := m.ListMessages(ctx, "c")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("messages = %+v, want oldest first", msgs)
	}
	last, ok, err := m.LastMessage(ctx, "c")
	if err != nil || !ok || last.ID != "m2" {
		t.Errorf("last = %+v ok=%v err=%v", last, ok, err)
	}
}
