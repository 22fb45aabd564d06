package domain

import "sync"

// BadgeAggregator derives the total unread badge from both unread stores.
// The total is always recomputed from source state, never cached, so it
// cannot drift from the stores.
//
// A conversation badge can be suppressed for instant UI feedback the
// moment a conversation is opened, ahead of the slightly delayed MarkRead
// round-trip. Suppression is released once the mutation reaches a
// terminal state (committed or rolled back) or a newer unread event
// arrives for the conversation.
type BadgeAggregator struct {
	stores []*UnreadStore

	mu         sync.Mutex
	suppressed map[string]struct{}
}

func NewBadgeAggregator(stores ...*UnreadStore) *BadgeAggregator {
	return &BadgeAggregator{
		stores:     stores,
		suppressed: make(map[string]struct{}),
	}
}

// Total recomputes the aggregate unread count across all stores,
// excluding suppressed conversation badges.
func (a *BadgeAggregator) Total() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, store := range a.stores {
		for id, count := range store.Counts() {
			ref := ConversationRef{Kind: store.Kind(), ID: id}
			if _, ok := a.suppressed[ref.Key()]; ok {
				continue
			}
			total += count
		}
	}

	return total
}

// ConversationBadge returns the badge value for one conversation.
func (a *BadgeAggregator) ConversationBadge(ref ConversationRef) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.suppressed[ref.Key()]; ok {
		return 0
	}

	for _, store := range a.stores {
		if store.Kind() == ref.Kind {
			return store.Count(ref.ID)
		}
	}

	return 0
}

// ResetConversationBadge hides the badge for ref immediately. Distinct
// from MarkRead, which also triggers persistence.
func (a *BadgeAggregator) ResetConversationBadge(ref ConversationRef) {
	if !ref.Valid() {
		return
	}
	a.mu.Lock()
	a.suppressed[ref.Key()] = struct{}{}
	a.mu.Unlock()
}

// ReleaseConversationBadge lifts a suppression so the badge reflects
// store state again. Called on mutation completion and on fresh unread
// events, which outrank a stale reset.
func (a *BadgeAggregator) ReleaseConversationBadge(ref ConversationRef) {
	a.mu.Lock()
	delete(a.suppressed, ref.Key())
	a.mu.Unlock()
}
