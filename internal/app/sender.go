package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"paceclub/internal/bus"
	"paceclub/internal/config"
	"paceclub/internal/domain"
	"paceclub/internal/events"
)

const optimisticIDPrefix = "local-"

var ErrEmptyMessageText = errors.New("message text is empty")

// SendClient posts an outgoing message to the backend.
type SendClient interface {
	SendMessage(ctx context.Context, conversationID string, userID string, text string, clientRef string) (domain.Message, error)
}

// MessageSender implements the optimistic send pipeline: the message
// appears in the conversation immediately under a client-generated id,
// and is either promoted by the backend's confirmed copy or marked failed
// on a terminal error.
type MessageSender struct {
	bus           bus.MessageBus
	conversations *domain.ConversationStore
	client        SendClient
	session       func() config.SessionConfig
	logger        *slog.Logger
}

func NewMessageSender(
	messageBus bus.MessageBus,
	conversations *domain.ConversationStore,
	client SendClient,
	session func() config.SessionConfig,
	logger *slog.Logger,
) *MessageSender {
	if logger == nil {
		logger = slog.Default().With("component", "app.sender")
	}

	return &MessageSender{
		bus:           messageBus,
		conversations: conversations,
		client:        client,
		session:       session,
		logger:        logger,
	}
}

// Send inserts the optimistic row and dispatches the backend call. The
// returned message is the optimistic copy.
func (s *MessageSender) Send(ctx context.Context, ref domain.ConversationRef, text string) (domain.Message, error) {
	if !ref.Valid() {
		return domain.Message{}, domain.ErrEmptyConversationID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Message{}, ErrEmptyMessageText
	}
	session := s.session()
	if strings.TrimSpace(session.UserID) == "" {
		return domain.Message{}, domain.ErrEmptyUserID
	}

	local := domain.Message{
		ID:             optimisticIDPrefix + uuid.NewString(),
		ConversationID: ref.ID,
		Sender: domain.Sender{
			ID:     session.UserID,
			Name:   session.DisplayName,
			Avatar: session.AvatarURL,
		},
		Text:       text,
		SentAt:     time.Now(),
		Optimistic: true,
		Status:     domain.MessageStatusPending,
	}

	s.conversations.Upsert(local)
	s.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: ref.ID})

	go s.dispatch(ctx, ref, local)

	return local, nil
}

func (s *MessageSender) dispatch(ctx context.Context, ref domain.ConversationRef, local domain.Message) {
	confirmed, err := s.client.SendMessage(ctx, ref.ID, local.Sender.ID, local.Text, local.ID)
	if err != nil {
		s.logger.Warn("send message failed", "conversation", ref.Key(), "local_id", local.ID, "error", err)
		s.conversations.MarkStatus(ref.ID, local.ID, domain.MessageStatusFailed)
		s.bus.Publish(events.TopicSendFailed, events.SendFailed{
			Conversation: ref,
			LocalID:      local.ID,
			Err:          err,
		})
		s.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: ref.ID})

		return
	}

	// The response carries the confirmed copy, so the optimistic row can
	// be swapped out deterministically by its client ref. A feed echo that
	// raced ahead already promoted it, in which case the delete is a no-op
	// and the upsert reconciles into the existing row.
	s.conversations.Delete(ref.ID, local.ID)
	if s.conversations.Upsert(confirmed) != domain.ReconcileKept {
		s.bus.Publish(events.TopicMessageReconciled, events.MessageReconciled{ConversationID: ref.ID})
	}
}
