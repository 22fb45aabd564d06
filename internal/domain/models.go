package domain

import (
	"strings"
	"time"
)

type ConversationKind int

const (
	ConversationKindClub ConversationKind = iota + 1
	ConversationKindDirect
)

func (k ConversationKind) String() string {
	switch k {
	case ConversationKindClub:
		return "club"
	case ConversationKindDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ConversationRef identifies one conversation. IDs are stable and never
// reused across distinct conversations.
type ConversationRef struct {
	Kind ConversationKind
	ID   string
}

func (r ConversationRef) Key() string {
	return r.Kind.String() + ":" + r.ID
}

func (r ConversationRef) Valid() bool {
	if strings.TrimSpace(r.ID) == "" {
		return false
	}

	return r.Kind == ConversationKindClub || r.Kind == ConversationKindDirect
}

type MessageStatus int

const (
	MessageStatusPending MessageStatus = iota + 1
	MessageStatusSent
	MessageStatusFailed
)

// Sender is the author metadata attached to a message. Name and Avatar may
// arrive empty on low-fidelity feed echoes and get enriched later.
type Sender struct {
	ID     string
	Name   string
	Avatar string
}

// MetadataRank orders sender metadata by completeness. A higher rank never
// gets overwritten by a lower one during reconciliation.
func (s Sender) MetadataRank() int {
	rank := 0
	if strings.TrimSpace(s.Name) != "" {
		rank++
	}
	if strings.TrimSpace(s.Avatar) != "" {
		rank++
	}

	return rank
}

// Message is one chat message row. Optimistic messages carry a
// client-generated LocalID-style id until the backend echo promotes them.
type Message struct {
	ID             string
	ConversationID string
	Sender         Sender
	Text           string
	SentAt         time.Time
	Optimistic     bool
	Status         MessageStatus
}

// UnreadCounts is the authoritative per-kind unread snapshot returned by
// the backend resync endpoint.
type UnreadCounts struct {
	ClubUnread map[string]int
	DMUnread   map[string]int
}
