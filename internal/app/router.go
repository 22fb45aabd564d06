package app

import (
	"context"
	"log/slog"

	"paceclub/internal/bus"
	"paceclub/internal/domain"
	"paceclub/internal/events"
)

// Router consumes the two live message feeds and turns each event into
// unread state, badge updates, and reconciled conversation rows.
//
// Per event: self-authored events never generate unread state; events for
// the active conversation are suppressed (the user is presumed to be
// reading it live); everything else increments the unread count of its
// conversation. All events, including self-authored ones, still flow into
// the conversation store so optimistic rows get promoted by their echoes.
type Router struct {
	bus           bus.MessageBus
	active        *domain.ActiveTracker
	clubs         *domain.UnreadStore
	dms           *domain.UnreadStore
	conversations *domain.ConversationStore
	badges        *domain.BadgeAggregator
	selfID        func() string
	logger        *slog.Logger
}

func NewRouter(
	messageBus bus.MessageBus,
	active *domain.ActiveTracker,
	clubs *domain.UnreadStore,
	dms *domain.UnreadStore,
	conversations *domain.ConversationStore,
	badges *domain.BadgeAggregator,
	selfID func() string,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default().With("component", "app.router")
	}

	return &Router{
		bus:           messageBus,
		active:        active,
		clubs:         clubs,
		dms:           dms,
		conversations: conversations,
		badges:        badges,
		selfID:        selfID,
		logger:        logger,
	}
}

func (r *Router) Start(ctx context.Context) {
	feedSub := r.bus.Subscribe(events.TopicClubMessage, events.TopicDirectMessage)

	go func() {
		defer r.bus.Unsubscribe(feedSub, events.TopicClubMessage, events.TopicDirectMessage)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-feedSub:
				if !ok {
					return
				}
				event, ok := raw.(events.MessageEvent)
				if !ok {
					continue
				}
				r.HandleEvent(event)
			}
		}
	}()

	go r.readResultLoop(ctx, r.clubs)
	go r.readResultLoop(ctx, r.dms)
}

// HandleEvent routes one decoded feed event.
func (r *Router) HandleEvent(event events.MessageEvent) {
	if !event.Conversation.Valid() {
		r.logger.Warn("drop event with invalid conversation ref", "ref", event.Conversation)

		return
	}

	switch event.Kind {
	case events.EventKindDelete:
		if r.conversations.Delete(event.Conversation.ID, event.MessageID) {
			r.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: event.Conversation.ID})
		}

		return
	case events.EventKindUpdate:
		r.reconcile(event)

		return
	case events.EventKindInsert:
	default:
		r.logger.Warn("drop event with unknown kind", "kind", event.Kind)

		return
	}

	r.reconcile(event)

	if event.SenderID != "" && event.SenderID == r.selfID() {
		return
	}
	if r.active.IsActive(event.Conversation) {
		r.logger.Debug("suppress unread for active conversation", "conversation", event.Conversation.Key())

		return
	}

	store := r.storeFor(event.Conversation.Kind)
	if store == nil {
		return
	}
	count := store.MarkUnread(event.Conversation.ID)
	// A fresh unread event outranks any stale badge reset.
	r.badges.ReleaseConversationBadge(event.Conversation)

	r.bus.Publish(events.TopicUnreadChanged, events.UnreadChanged{
		Conversation: event.Conversation,
		Count:        count,
		Total:        r.badges.Total(),
		SenderName:   event.SenderName,
		Preview:      event.Text,
	})
}

func (r *Router) reconcile(event events.MessageEvent) {
	outcome := r.conversations.Upsert(event.Message())
	if outcome == domain.ReconcileDropped || outcome == domain.ReconcileKept {
		return
	}
	r.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: event.Conversation.ID})
}

// readResultLoop finishes mark-read mutations: releases the badge reset
// and surfaces rollbacks as non-fatal read errors.
func (r *Router) readResultLoop(ctx context.Context, store *domain.UnreadStore) {
	for {
		select {
		case <-ctx.Done():
			return
		case result, ok := <-store.Results():
			if !ok {
				return
			}
			ref := domain.ConversationRef{Kind: store.Kind(), ID: result.ConversationID}
			r.badges.ReleaseConversationBadge(ref)

			if result.RolledBack {
				r.bus.Publish(events.TopicReadError, events.ReadError{
					Conversation: ref,
					Attempts:     result.Attempts,
					Err:          result.Err,
				})
			}
			r.bus.Publish(events.TopicUnreadChanged, events.UnreadChanged{
				Conversation: ref,
				Count:        store.Count(result.ConversationID),
				Total:        r.badges.Total(),
			})
		}
	}
}

func (r *Router) storeFor(kind domain.ConversationKind) *domain.UnreadStore {
	switch kind {
	case domain.ConversationKindClub:
		return r.clubs
	case domain.ConversationKindDirect:
		return r.dms
	default:
		return nil
	}
}
