package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"paceclub/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

func TestMessageRepo_UpsertAndListAscending(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	ctx := context.Background()
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	msgs := []domain.Message{
		{ID: "m-2", ConversationID: "dm-1", Sender: domain.Sender{ID: "u2", Name: "Grace"}, Text: "b", SentAt: base.Add(time.Minute)},
		{ID: "m-1", ConversationID: "dm-1", Sender: domain.Sender{ID: "u1"}, Text: "a", SentAt: base},
	}
	for _, m := range msgs {
		if err := repo.Upsert(ctx, m); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := repo.ListRecentByConversation(ctx, "dm-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].ID != "m-1" || got[1].ID != "m-2" {
		t.Fatalf("expected ascending order, got %q then %q", got[0].ID, got[1].ID)
	}
}

func TestMessageRepo_UpsertNeverDowngradesMetadata(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	ctx := context.Background()

	rich := domain.Message{
		ID: "m-1", ConversationID: "dm-1",
		Sender: domain.Sender{ID: "u2", Name: "Grace", Avatar: "https://cdn/g.png"},
		Text:   "hi", SentAt: time.Now(),
	}
	if err := repo.Upsert(ctx, rich); err != nil {
		t.Fatalf("upsert rich: %v", err)
	}

	weak := rich
	weak.Sender = domain.Sender{ID: "u2"}
	if err := repo.Upsert(ctx, weak); err != nil {
		t.Fatalf("upsert weak: %v", err)
	}

	got, err := repo.ListRecentByConversation(ctx, "dm-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got[0].Sender.Name != "Grace" || got[0].Sender.Avatar == "" {
		t.Fatalf("expected metadata kept, got %+v", got[0].Sender)
	}
}

func TestMessageRepo_SkipsOptimisticMessages(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	ctx := context.Background()

	err := repo.Upsert(ctx, domain.Message{
		ID: "local-1", ConversationID: "dm-1",
		Sender: domain.Sender{ID: "u1"}, Text: "x",
		SentAt: time.Now(), Optimistic: true,
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := repo.ListRecentByConversation(ctx, "dm-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected optimistic message not cached, got %d rows", len(got))
	}
}

func TestMessageRepo_Delete(t *testing.T) {
	repo := NewMessageRepo(openTestDB(t))
	ctx := context.Background()

	_ = repo.Upsert(ctx, domain.Message{ID: "m-1", ConversationID: "dm-1", Sender: domain.Sender{ID: "u2"}, Text: "x", SentAt: time.Now()})
	if err := repo.Delete(ctx, "dm-1", "m-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err := repo.ListRecentByConversation(ctx, "dm-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty cache after delete, got %d rows", len(got))
	}
}

func TestUnreadRepo_ReplaceAndLoadSnapshot(t *testing.T) {
	repo := NewUnreadRepo(openTestDB(t))
	ctx := context.Background()

	err := repo.ReplaceSnapshot(ctx, domain.ConversationKindClub, map[string]int{"club-1": 2, "club-2": 0})
	if err != nil {
		t.Fatalf("replace snapshot: %v", err)
	}
	err = repo.ReplaceSnapshot(ctx, domain.ConversationKindDirect, map[string]int{"dm-1": 1})
	if err != nil {
		t.Fatalf("replace snapshot: %v", err)
	}

	clubs, err := repo.LoadSnapshot(ctx, domain.ConversationKindClub)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(clubs) != 1 || clubs["club-1"] != 2 {
		t.Fatalf("unexpected club snapshot: %+v", clubs)
	}

	// Replacing again drops rows missing from the new snapshot.
	if err := repo.ReplaceSnapshot(ctx, domain.ConversationKindClub, map[string]int{"club-3": 5}); err != nil {
		t.Fatalf("replace snapshot: %v", err)
	}
	clubs, err = repo.LoadSnapshot(ctx, domain.ConversationKindClub)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if len(clubs) != 1 || clubs["club-3"] != 5 {
		t.Fatalf("expected wholesale overwrite, got %+v", clubs)
	}

	dms, err := repo.LoadSnapshot(ctx, domain.ConversationKindDirect)
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if dms["dm-1"] != 1 {
		t.Fatalf("expected direct snapshot untouched, got %+v", dms)
	}
}
