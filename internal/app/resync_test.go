package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paceclub/internal/bus"
	"paceclub/internal/domain"
	"paceclub/internal/events"
)

type stubUnreadFetcher struct {
	mu     sync.Mutex
	counts domain.UnreadCounts
	err    error
	calls  int
}

func (f *stubUnreadFetcher) GetUnreadCounts(_ context.Context, _ string) (domain.UnreadCounts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return domain.UnreadCounts{}, f.err
	}

	return f.counts, nil
}

func (f *stubUnreadFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls
}

func newResyncFixture(t *testing.T, fetcher UnreadFetcher) (*ResyncService, *domain.UnreadStore, *domain.UnreadStore, *bus.PubSubBus) {
	t.Helper()

	b := bus.New(nil)
	t.Cleanup(b.Close)

	clubs := domain.NewUnreadStore(domain.UnreadStoreConfig{Kind: domain.ConversationKindClub, Persister: &stubPersister{}})
	dms := domain.NewUnreadStore(domain.UnreadStoreConfig{Kind: domain.ConversationKindDirect, Persister: &stubPersister{}})
	svc := NewResyncService(ResyncServiceConfig{
		UserID:  "me",
		Fetcher: fetcher,
		Clubs:   clubs,
		DMs:     dms,
		Badges:  domain.NewBadgeAggregator(clubs, dms),
		Bus:     b,
	})

	return svc, clubs, dms, b
}

func TestResyncOverwritesLocalState(t *testing.T) {
	fetcher := &stubUnreadFetcher{counts: domain.UnreadCounts{
		ClubUnread: map[string]int{"club-1": 4},
		DMUnread:   map[string]int{"dm-1": 1, "dm-2": 2},
	}}
	svc, clubs, dms, b := newResyncFixture(t, fetcher)

	// Local drift the backend knows nothing about.
	clubs.MarkUnread("club-stale")
	dms.MarkUnread("dm-1")

	sub := b.Subscribe(events.TopicUnreadChanged)

	if err := svc.ResyncNow(context.Background()); err != nil {
		t.Fatalf("ResyncNow: %v", err)
	}

	if clubs.Contains("club-stale") {
		t.Fatalf("resync must drop conversations absent from the snapshot")
	}
	if got := clubs.Count("club-1"); got != 4 {
		t.Fatalf("expected club-1 count 4, got %d", got)
	}
	if got := dms.Count("dm-1"); got != 1 {
		t.Fatalf("expected dm-1 overwritten to 1, got %d", got)
	}
	if got := dms.Total(); got != 3 {
		t.Fatalf("expected dm total 3, got %d", got)
	}

	payload := awaitBusPayload(t, sub)
	change, ok := payload.(events.UnreadChanged)
	if !ok {
		t.Fatalf("expected UnreadChanged, got %T", payload)
	}
	if change.Total != 7 {
		t.Fatalf("expected total 7, got %d", change.Total)
	}
	if change.SenderName != "" || change.Preview != "" {
		t.Fatalf("resync completion must not carry toast context: %+v", change)
	}
}

func TestResyncFailureLeavesStateUntouched(t *testing.T) {
	fetcher := &stubUnreadFetcher{err: errors.New("http 503")}
	svc, clubs, dms, _ := newResyncFixture(t, fetcher)

	clubs.MarkUnread("club-1")
	dms.MarkUnread("dm-1")
	dms.MarkUnread("dm-1")

	if err := svc.ResyncNow(context.Background()); err == nil {
		t.Fatalf("expected fetch error to propagate")
	}
	if got := clubs.Count("club-1"); got != 1 {
		t.Fatalf("failed resync must not touch club counts, got %d", got)
	}
	if got := dms.Count("dm-1"); got != 2 {
		t.Fatalf("failed resync must not touch dm counts, got %d", got)
	}
}

func TestResyncRunsPeriodically(t *testing.T) {
	fetcher := &stubUnreadFetcher{counts: domain.UnreadCounts{}}
	b := bus.New(nil)
	t.Cleanup(b.Close)
	clubs := domain.NewUnreadStore(domain.UnreadStoreConfig{Kind: domain.ConversationKindClub, Persister: &stubPersister{}})
	dms := domain.NewUnreadStore(domain.UnreadStoreConfig{Kind: domain.ConversationKindDirect, Persister: &stubPersister{}})
	svc := NewResyncService(ResyncServiceConfig{
		UserID:   "me",
		Interval: 20 * time.Millisecond,
		Fetcher:  fetcher,
		Clubs:    clubs,
		DMs:      dms,
		Badges:   domain.NewBadgeAggregator(clubs, dms),
		Bus:      b,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	deadline := time.After(2 * time.Second)
	for fetcher.callCount() < 2 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 2 fetches, got %d", fetcher.callCount())
		case <-time.After(10 * time.Millisecond):
		}
	}
}
