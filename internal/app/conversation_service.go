package app

import (
	"context"
	"log/slog"

	"paceclub/internal/bus"
	"paceclub/internal/domain"
	"paceclub/internal/events"
	"paceclub/internal/persistence"
)

// MessagesFetcher loads a conversation's recent messages from the backend.
type MessagesFetcher interface {
	FetchMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error)
}

// ConversationService drives the open/close lifecycle of a conversation
// view. Opening a conversation makes it the active one (exempting it from
// unread marking), hides its badge instantly, kicks off the optimistic
// mark-read, and hydrates the message list from the local cache and then
// the backend.
type ConversationService struct {
	bus           bus.MessageBus
	active        *domain.ActiveTracker
	clubs         *domain.UnreadStore
	dms           *domain.UnreadStore
	badges        *domain.BadgeAggregator
	conversations *domain.ConversationStore
	fetcher       MessagesFetcher
	messageCache  *persistence.MessageRepo
	userID        func() string
	pageSize      int
	logger        *slog.Logger
}

func NewConversationService(
	messageBus bus.MessageBus,
	active *domain.ActiveTracker,
	clubs *domain.UnreadStore,
	dms *domain.UnreadStore,
	badges *domain.BadgeAggregator,
	conversations *domain.ConversationStore,
	fetcher MessagesFetcher,
	messageCache *persistence.MessageRepo,
	userID func() string,
	pageSize int,
	logger *slog.Logger,
) *ConversationService {
	if pageSize <= 0 {
		pageSize = RecentMessagesLoad
	}
	if logger == nil {
		logger = slog.Default().With("component", "app.conversations")
	}

	return &ConversationService{
		bus:           messageBus,
		active:        active,
		clubs:         clubs,
		dms:           dms,
		badges:        badges,
		conversations: conversations,
		fetcher:       fetcher,
		messageCache:  messageCache,
		userID:        userID,
		pageSize:      pageSize,
		logger:        logger,
	}
}

// Open makes ref the active conversation and clears its unread state.
func (s *ConversationService) Open(ctx context.Context, ref domain.ConversationRef) error {
	if !ref.Valid() {
		return domain.ErrEmptyConversationID
	}

	s.active.SetActive(ref)
	s.bus.Publish(events.TopicConversationOpened, events.ConversationOpened{Conversation: ref})

	// Instant visual feedback, ahead of the mark-read round-trip.
	s.badges.ResetConversationBadge(ref)

	store := s.storeFor(ref.Kind)
	if store != nil {
		if err := store.MarkRead(ctx, ref.ID, s.userID()); err != nil {
			return err
		}
	}

	s.hydrateFromCache(ctx, ref)
	go s.hydrateFromBackend(ctx, ref)

	return nil
}

// Close clears the active conversation. An in-flight mark-read keeps
// running to completion or rollback; navigating away must not leave the
// unread count in an inconsistent state.
func (s *ConversationService) Close() {
	prev, known := s.active.Clear()
	s.bus.Publish(events.TopicConversationClosed, events.ConversationClosed{Previous: prev, Known: known})
}

func (s *ConversationService) hydrateFromCache(ctx context.Context, ref domain.ConversationRef) {
	if s.messageCache == nil {
		return
	}
	cached, err := s.messageCache.ListRecentByConversation(ctx, ref.ID, s.pageSize)
	if err != nil {
		s.logger.Warn("load cached messages", "conversation", ref.Key(), "error", err)

		return
	}
	if len(cached) == 0 {
		return
	}
	s.conversations.LoadInitial(ref.ID, cached)
	s.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: ref.ID})
}

func (s *ConversationService) hydrateFromBackend(ctx context.Context, ref domain.ConversationRef) {
	msgs, err := s.fetcher.FetchMessages(ctx, ref.ID, s.pageSize)
	if err != nil {
		s.logger.Warn("fetch messages", "conversation", ref.Key(), "error", err)

		return
	}
	s.conversations.LoadInitial(ref.ID, msgs)
	s.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: ref.ID})
}

func (s *ConversationService) storeFor(kind domain.ConversationKind) *domain.UnreadStore {
	switch kind {
	case domain.ConversationKindClub:
		return s.clubs
	case domain.ConversationKindDirect:
		return s.dms
	default:
		return nil
	}
}
