package domain

import "sync"

// ActiveTracker records which single conversation is currently visible in
// the UI. The router consults it as a suppression gate: an active
// conversation never accumulates unread state while the user is looking
// at it.
type ActiveTracker struct {
	mu     sync.RWMutex
	active ConversationRef
	set    bool
}

func NewActiveTracker() *ActiveTracker {
	return &ActiveTracker{}
}

// SetActive replaces the active conversation. Setting the same ref twice
// is a no-op; replacing a different ref carries no implicit side effects
// (marking the previous conversation read is a separate, explicit action).
func (t *ActiveTracker) SetActive(ref ConversationRef) bool {
	if !ref.Valid() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.set && t.active == ref {
		return false
	}
	t.active = ref
	t.set = true

	return true
}

// Clear drops the active conversation and reports which one was active.
func (t *ActiveTracker) Clear() (ConversationRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.set {
		return ConversationRef{}, false
	}
	ref := t.active
	t.active = ConversationRef{}
	t.set = false

	return ref, true
}

func (t *ActiveTracker) IsActive(ref ConversationRef) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.set && t.active == ref
}

func (t *ActiveTracker) Active() (ConversationRef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.active, t.set
}
