package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"paceclub/internal/bus"
	"paceclub/internal/config"
	"paceclub/internal/domain"
	"paceclub/internal/events"
	"paceclub/internal/notifications"
)

type spySender struct {
	mu   sync.Mutex
	sent []notifications.Payload
	got  chan struct{}
}

func newSpySender() *spySender {
	return &spySender{got: make(chan struct{}, 8)}
}

func (s *spySender) Send(payload notifications.Payload) {
	s.mu.Lock()
	s.sent = append(s.sent, payload)
	s.mu.Unlock()
	s.got <- struct{}{}
}

func (s *spySender) payloads() []notifications.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]notifications.Payload(nil), s.sent...)
}

func (s *spySender) awaitSend(t *testing.T) notifications.Payload {
	t.Helper()

	select {
	case <-s.got:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
	sent := s.payloads()

	return sent[len(sent)-1]
}

func startNotificationService(t *testing.T, cfg config.AppConfig, foreground bool) (*bus.PubSubBus, *spySender) {
	t.Helper()

	b := bus.New(nil)
	t.Cleanup(b.Close)
	sender := newSpySender()
	svc := NewNotificationService(
		b,
		func() config.AppConfig { return cfg },
		func() bool { return foreground },
		sender,
		nil,
	)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	svc.Start(ctx)
	// Let the subscription attach before tests publish.
	time.Sleep(10 * time.Millisecond)

	return b, sender
}

func TestNotifyOnIncomingDirectMessage(t *testing.T) {
	b, sender := startNotificationService(t, config.Default(), false)

	b.Publish(events.TopicUnreadChanged, events.UnreadChanged{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindDirect, ID: "dm-1"},
		Count:        1,
		Total:        1,
		SenderName:   "Jess",
		Preview:      "still on for tonight?",
	})

	payload := sender.awaitSend(t)
	if payload.Title != "@Jess" {
		t.Fatalf("expected DM title @Jess, got %q", payload.Title)
	}
	if !strings.Contains(payload.Content, "still on for tonight?") {
		t.Fatalf("expected preview in content, got %q", payload.Content)
	}
}

func TestNotifyClubTitleUsesConversationID(t *testing.T) {
	b, sender := startNotificationService(t, config.Default(), false)

	b.Publish(events.TopicUnreadChanged, events.UnreadChanged{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindClub, ID: "sunrise-runners"},
		Count:        3,
		Total:        3,
		SenderName:   "Sam",
		Preview:      "route is up",
	})

	payload := sender.awaitSend(t)
	if payload.Title != "#sunrise-runners" {
		t.Fatalf("expected club title, got %q", payload.Title)
	}
}

func TestNoToastForResyncCompletions(t *testing.T) {
	b, sender := startNotificationService(t, config.Default(), false)

	// Resync and mark-read completions carry no sender or preview.
	b.Publish(events.TopicUnreadChanged, events.UnreadChanged{Total: 12})
	b.Publish(events.TopicUnreadChanged, events.UnreadChanged{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindClub, ID: "club-1"},
		Count:        0,
		Total:        11,
	})

	time.Sleep(50 * time.Millisecond)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("expected no notifications, got %+v", got)
	}
}

func TestNoToastWhileAppFocused(t *testing.T) {
	b, sender := startNotificationService(t, config.Default(), true)

	b.Publish(events.TopicUnreadChanged, events.UnreadChanged{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindDirect, ID: "dm-1"},
		Count:        1,
		SenderName:   "Jess",
		Preview:      "hi",
	})

	time.Sleep(50 * time.Millisecond)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("default config mutes focused app, got %+v", got)
	}
}

func TestIncomingMessageToastsDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.Events.IncomingMessage = false
	b, sender := startNotificationService(t, cfg, false)

	b.Publish(events.TopicUnreadChanged, events.UnreadChanged{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindDirect, ID: "dm-1"},
		SenderName:   "Jess",
		Preview:      "hi",
	})

	time.Sleep(50 * time.Millisecond)
	if got := sender.payloads(); len(got) != 0 {
		t.Fatalf("expected disabled toasts to stay silent, got %+v", got)
	}
}

func TestNotifyOnReadRollback(t *testing.T) {
	b, sender := startNotificationService(t, config.Default(), false)

	b.Publish(events.TopicReadError, events.ReadError{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindClub, ID: "club-1"},
		Attempts:     3,
		Err:          errors.New("http 503"),
	})

	payload := sender.awaitSend(t)
	if payload.Title != notificationTitleReadFailed {
		t.Fatalf("unexpected title %q", payload.Title)
	}
	if !strings.Contains(payload.Content, "3 attempts") {
		t.Fatalf("expected attempt count in content, got %q", payload.Content)
	}
}

func TestNotifyOnSendFailure(t *testing.T) {
	b, sender := startNotificationService(t, config.Default(), false)

	b.Publish(events.TopicSendFailed, events.SendFailed{
		Conversation: domain.ConversationRef{Kind: domain.ConversationKindDirect, ID: "dm-1"},
		LocalID:      "local-1",
		Err:          errors.New("http 500"),
	})

	payload := sender.awaitSend(t)
	if payload.Title != notificationTitleSendFailed {
		t.Fatalf("unexpected title %q", payload.Title)
	}
}
