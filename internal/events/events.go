package events

import (
	"time"

	"paceclub/internal/domain"
)

// EventKind is the row-level change type delivered by the live feed.
type EventKind string

const (
	EventKindInsert EventKind = "insert"
	EventKindUpdate EventKind = "update"
	EventKindDelete EventKind = "delete"
)

// MessageEvent is one decoded live-feed change, published on
// TopicClubMessage or TopicDirectMessage depending on the feed channel.
type MessageEvent struct {
	Kind         EventKind
	Conversation domain.ConversationRef
	MessageID    string
	SenderID     string
	SenderName   string
	SenderAvatar string
	Text         string
	SentAt       time.Time
}

func (e MessageEvent) Message() domain.Message {
	return domain.Message{
		ID:             e.MessageID,
		ConversationID: e.Conversation.ID,
		Sender: domain.Sender{
			ID:     e.SenderID,
			Name:   e.SenderName,
			Avatar: e.SenderAvatar,
		},
		Text:   e.Text,
		SentAt: e.SentAt,
	}
}

// UnreadChanged is published whenever unread state moves, with enough
// context for badges and notification toasts.
type UnreadChanged struct {
	Conversation domain.ConversationRef
	Count        int
	Total        int
	SenderName   string
	Preview      string
}

// ConversationOpened is published when the UI opens a conversation view.
type ConversationOpened struct {
	Conversation domain.ConversationRef
}

// ConversationClosed is published when the active conversation view goes
// away. Previous names the conversation that was open, when known.
type ConversationClosed struct {
	Previous domain.ConversationRef
	Known    bool
}

// MessageReconciled is published after a candidate message merged into a
// conversation list, so open views re-read the store.
type MessageReconciled struct {
	ConversationID string
}

// ReadError surfaces a mark-read mutation that exhausted its retries and
// was rolled back. Non-fatal and dismissible.
type ReadError struct {
	Conversation domain.ConversationRef
	Attempts     int
	Err          error
}

// SendFailed surfaces a terminally failed outgoing message.
type SendFailed struct {
	Conversation domain.ConversationRef
	LocalID      string
	Err          error
}

// FeedState describes the live-feed connection lifecycle.
type FeedState string

const (
	FeedStateDisconnected FeedState = "disconnected"
	FeedStateConnecting   FeedState = "connecting"
	FeedStateConnected    FeedState = "connected"
	FeedStateReconnecting FeedState = "reconnecting"
)

// FeedStatus is a bus snapshot of the live-feed connection state.
type FeedStatus struct {
	State     FeedState
	Err       string
	Target    string
	Timestamp time.Time
}
