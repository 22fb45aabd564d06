package app

import (
	"context"

	"paceclub/internal/bus"
	"paceclub/internal/events"
	"paceclub/internal/persistence"
)

// StartCacheProjection mirrors confirmed feed messages into the local
// sqlite cache through the writer queue, off the event path. The cache
// only ever holds backend-confirmed rows; resync and fetch results
// overwrite it, so the backend stays the system of record.
func StartCacheProjection(
	ctx context.Context,
	messageBus bus.MessageBus,
	writer *persistence.WriterQueue,
	messages *persistence.MessageRepo,
) {
	sub := messageBus.Subscribe(events.TopicClubMessage, events.TopicDirectMessage)

	go func() {
		defer messageBus.Unsubscribe(sub, events.TopicClubMessage, events.TopicDirectMessage)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				event, ok := raw.(events.MessageEvent)
				if !ok {
					continue
				}
				projectMessageEvent(writer, messages, event)
			}
		}
	}()
}

func projectMessageEvent(writer *persistence.WriterQueue, messages *persistence.MessageRepo, event events.MessageEvent) {
	switch event.Kind {
	case events.EventKindInsert, events.EventKindUpdate:
		msg := event.Message()
		writer.Enqueue("messages.upsert", func(ctx context.Context) error {
			return messages.Upsert(ctx, msg)
		})
	case events.EventKindDelete:
		conversationID := event.Conversation.ID
		messageID := event.MessageID
		writer.Enqueue("messages.delete", func(ctx context.Context) error {
			return messages.Delete(ctx, conversationID, messageID)
		})
	}
}
