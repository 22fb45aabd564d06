package domain

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Promotion matches an optimistic message against its confirmed echo by
// sender+text when the timestamps are within this window.
const defaultPromotionTolerance = 5 * time.Second

// ReconcileOutcome describes what Upsert did with a candidate message.
type ReconcileOutcome int

const (
	ReconcileDropped ReconcileOutcome = iota
	ReconcileInserted
	ReconcileUpdated
	ReconcilePromoted
	ReconcileKept
)

// ConversationStore holds the deduplicated, time-ordered message list of
// every conversation the client has touched. Candidates arrive from the
// initial fetch, the live feed, and local optimistic inserts; all three
// converge to exactly one row per underlying message, carrying the best
// available metadata.
type ConversationStore struct {
	tolerance time.Duration

	mu       sync.RWMutex
	messages map[string][]Message
	changes  chan struct{}
}

func NewConversationStore() *ConversationStore {
	return &ConversationStore{
		tolerance: defaultPromotionTolerance,
		messages:  make(map[string][]Message),
		changes:   make(chan struct{}, 1),
	}
}

// Upsert merges one candidate message into its conversation list.
func (s *ConversationStore) Upsert(msg Message) ReconcileOutcome {
	msg.ConversationID = strings.TrimSpace(msg.ConversationID)
	if msg.ConversationID == "" {
		return ReconcileDropped
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	s.mu.Lock()
	outcome := s.upsertLocked(msg)
	s.mu.Unlock()

	if outcome != ReconcileDropped && outcome != ReconcileKept {
		s.notify()
	}

	return outcome
}

func (s *ConversationStore) upsertLocked(msg Message) ReconcileOutcome {
	list := s.messages[msg.ConversationID]

	if msg.ID != "" {
		for i := range list {
			if list[i].ID != msg.ID {
				continue
			}

			merged, changed := mergeMessage(list[i], msg)
			if !changed {
				return ReconcileKept
			}
			list[i] = merged
			s.messages[msg.ConversationID] = list

			return ReconcileUpdated
		}
	}

	if !msg.Optimistic {
		for i := range list {
			if !list[i].Optimistic {
				continue
			}
			if !s.matchesOptimistic(list[i], msg) {
				continue
			}

			promoted := msg
			promoted.Status = MessageStatusSent
			if list[i].Sender.MetadataRank() > promoted.Sender.MetadataRank() {
				promoted.Sender = list[i].Sender
			}
			list[i] = promoted
			s.messages[msg.ConversationID] = list

			return ReconcilePromoted
		}
	}

	s.messages[msg.ConversationID] = append(list, msg)

	return ReconcileInserted
}

// mergeMessage reconciles two copies of the same backend message. Weaker
// sender metadata never overwrites richer metadata; a non-empty incoming
// text applies so that edit events take effect.
func mergeMessage(existing, incoming Message) (Message, bool) {
	merged := existing
	changed := false

	if incoming.Sender.MetadataRank() > existing.Sender.MetadataRank() {
		merged.Sender = incoming.Sender
		changed = true
	}
	if incoming.Text != "" && incoming.Text != existing.Text {
		merged.Text = incoming.Text
		changed = true
	}
	if existing.Optimistic && !incoming.Optimistic {
		merged.Optimistic = false
		merged.Status = MessageStatusSent
		changed = true
	}

	return merged, changed
}

func (s *ConversationStore) matchesOptimistic(local, confirmed Message) bool {
	if local.Sender.ID != confirmed.Sender.ID {
		return false
	}
	if local.Text != confirmed.Text {
		return false
	}
	delta := confirmed.SentAt.Sub(local.SentAt)
	if delta < 0 {
		delta = -delta
	}

	return delta <= s.tolerance
}

// Delete removes a message by id, for feed delete events.
func (s *ConversationStore) Delete(conversationID string, messageID string) bool {
	if messageID == "" {
		return false
	}

	s.mu.Lock()
	list := s.messages[conversationID]
	removed := false
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		s.messages[conversationID] = append(list[:i], list[i+1:]...)
		removed = true

		break
	}
	s.mu.Unlock()

	if removed {
		s.notify()
	}

	return removed
}

// MarkStatus updates the delivery status of a locally originated message.
func (s *ConversationStore) MarkStatus(conversationID string, messageID string, status MessageStatus) bool {
	s.mu.Lock()
	list := s.messages[conversationID]
	updated := false
	for i := range list {
		if list[i].ID != messageID {
			continue
		}
		if list[i].Status != status {
			list[i].Status = status
			updated = true
		}

		break
	}
	s.mu.Unlock()

	if updated {
		s.notify()
	}

	return updated
}

// LoadInitial merges a fetched message page into the conversation.
func (s *ConversationStore) LoadInitial(conversationID string, msgs []Message) {
	s.mu.Lock()
	for _, msg := range msgs {
		if msg.ConversationID == "" {
			msg.ConversationID = conversationID
		}
		s.upsertLocked(msg)
	}
	s.mu.Unlock()
	s.notify()
}

// Messages returns the conversation list sorted ascending by timestamp.
func (s *ConversationStore) Messages(conversationID string) []Message {
	s.mu.RLock()
	list := s.messages[conversationID]
	cloned := make([]Message, len(list))
	copy(cloned, list)
	s.mu.RUnlock()

	sort.SliceStable(cloned, func(i, j int) bool {
		if cloned[i].SentAt.Equal(cloned[j].SentAt) {
			return cloned[i].ID < cloned[j].ID
		}

		return cloned[i].SentAt.Before(cloned[j].SentAt)
	})

	return cloned
}

func (s *ConversationStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *ConversationStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
