package domain

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultReadMaxAttempts = 3
	defaultReadBackoffBase = time.Second
)

var (
	ErrEmptyConversationID = errors.New("conversation id is empty")
	ErrEmptyUserID         = errors.New("user id is empty")
)

// ReadPersister persists a read receipt for one conversation on the
// backend. Implementations are expected to be safe for concurrent use.
type ReadPersister interface {
	MarkConversationRead(ctx context.Context, conversationID string, userID string) error
}

// ReadResult reports the terminal outcome of one MarkRead mutation.
type ReadResult struct {
	ConversationID string
	Attempts       int
	Err            error
	RolledBack     bool
}

// UnreadStoreConfig customizes one unread store instance.
type UnreadStoreConfig struct {
	Kind        ConversationKind
	Persister   ReadPersister
	Logger      *slog.Logger
	MaxAttempts int
	BackoffBase time.Duration
}

// UnreadStore owns the unread conversation set and per-conversation unread
// counts for one conversation kind. Unread marking is a pure local
// mutation; read marking is optimistic with asynchronous persistence,
// retry, and rollback on exhausted retries.
//
// Invariant: the counts map only ever holds strictly positive values, so
// membership in the unread set and a positive count are the same fact.
type UnreadStore struct {
	kind        ConversationKind
	persister   ReadPersister
	logger      *slog.Logger
	maxAttempts int
	backoffBase time.Duration

	mu      sync.Mutex
	counts  map[string]int
	pending map[string]struct{}

	results chan ReadResult
	changes chan struct{}
}

func NewUnreadStore(cfg UnreadStoreConfig) *UnreadStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "domain.unread")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultReadMaxAttempts
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultReadBackoffBase
	}

	return &UnreadStore{
		kind:        cfg.Kind,
		persister:   cfg.Persister,
		logger:      logger,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		counts:      make(map[string]int),
		pending:     make(map[string]struct{}),
		results:     make(chan ReadResult, 16),
		changes:     make(chan struct{}, 1),
	}
}

func (s *UnreadStore) Kind() ConversationKind {
	return s.kind
}

// MarkUnread increments the unread count for conversationID, creating the
// entry if absent. No server round-trip: unread is inferred client-side
// from event delivery. Returns the new count.
func (s *UnreadStore) MarkUnread(conversationID string) int {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return 0
	}

	s.mu.Lock()
	s.counts[conversationID]++
	count := s.counts[conversationID]
	s.mu.Unlock()

	s.logger.Debug("marked unread", "conversation_id", conversationID, "count", count)
	s.notify()

	return count
}

// MarkRead optimistically clears the unread state for conversationID and
// persists the read receipt asynchronously. Duplicate calls while a
// mutation for the same id is in flight are dropped, not queued. The
// terminal outcome is delivered on Results.
//
// Rollback restores the count captured at call start plus any unread
// increments that arrived while the mutation was in flight.
func (s *UnreadStore) MarkRead(ctx context.Context, conversationID string, userID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return ErrEmptyConversationID
	}
	if strings.TrimSpace(userID) == "" {
		return ErrEmptyUserID
	}

	s.mu.Lock()
	if _, inFlight := s.pending[conversationID]; inFlight {
		s.mu.Unlock()
		s.logger.Debug("mark read suppressed: mutation in flight", "conversation_id", conversationID)

		return nil
	}
	snapshot := s.counts[conversationID]
	s.pending[conversationID] = struct{}{}
	delete(s.counts, conversationID)
	s.mu.Unlock()

	s.notify()
	go s.persistRead(ctx, conversationID, userID, snapshot)

	return nil
}

func (s *UnreadStore) persistRead(ctx context.Context, conversationID string, userID string, snapshot int) {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.persister.MarkConversationRead(ctx, conversationID, userID)
		if err == nil {
			s.clearPending(conversationID)
			s.logger.Debug("read receipt persisted", "conversation_id", conversationID, "attempt", attempt)
			s.emit(ReadResult{ConversationID: conversationID, Attempts: attempt})

			return
		}
		lastErr = err
		s.logger.Warn("persist read receipt", "conversation_id", conversationID, "attempt", attempt, "error", err)
		if attempt == s.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			s.rollback(conversationID, snapshot, attempt, ctx.Err())

			return
		case <-time.After(time.Duration(attempt) * s.backoffBase):
		}
	}

	s.rollback(conversationID, snapshot, s.maxAttempts, lastErr)
}

func (s *UnreadStore) rollback(conversationID string, snapshot int, attempts int, cause error) {
	s.mu.Lock()
	restored := snapshot + s.counts[conversationID]
	if restored > 0 {
		s.counts[conversationID] = restored
	} else {
		delete(s.counts, conversationID)
	}
	delete(s.pending, conversationID)
	s.mu.Unlock()

	s.logger.Warn("rolled back read receipt",
		"conversation_id", conversationID,
		"restored_count", restored,
		"attempts", attempts,
		"error", cause,
	)
	s.notify()
	s.emit(ReadResult{ConversationID: conversationID, Attempts: attempts, Err: cause, RolledBack: true})
}

func (s *UnreadStore) clearPending(conversationID string) {
	s.mu.Lock()
	delete(s.pending, conversationID)
	s.mu.Unlock()
}

// ReplaceAll overwrites the unread state wholesale with an authoritative
// backend snapshot. Non-positive counts are dropped.
func (s *UnreadStore) ReplaceAll(counts map[string]int) {
	next := make(map[string]int, len(counts))
	for id, count := range counts {
		id = strings.TrimSpace(id)
		if id == "" || count <= 0 {
			continue
		}
		next[id] = count
	}

	s.mu.Lock()
	s.counts = next
	s.mu.Unlock()

	s.notify()
}

func (s *UnreadStore) Count(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counts[conversationID]
}

func (s *UnreadStore) Contains(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.counts[conversationID]

	return ok
}

func (s *UnreadStore) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, count := range s.counts {
		total += count
	}

	return total
}

func (s *UnreadStore) UnreadIDs() []string {
	s.mu.Lock()
	out := make([]string, 0, len(s.counts))
	for id := range s.counts {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Strings(out)

	return out
}

func (s *UnreadStore) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for id, count := range s.counts {
		out[id] = count
	}

	return out
}

func (s *UnreadStore) PendingMutation(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[conversationID]

	return ok
}

// Results delivers the terminal outcome of every MarkRead mutation.
func (s *UnreadStore) Results() <-chan ReadResult {
	return s.results
}

// Changes signals that unread state changed. Coalesced: consumers re-read
// the store rather than counting signals.
func (s *UnreadStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *UnreadStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *UnreadStore) emit(result ReadResult) {
	select {
	case s.results <- result:
	default:
		s.logger.Warn("read result channel full, dropping result", "conversation_id", result.ConversationID)
	}
}
