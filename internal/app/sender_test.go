package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"paceclub/internal/bus"
	"paceclub/internal/config"
	"paceclub/internal/domain"
	"paceclub/internal/events"
)

type stubSendClient struct {
	confirm func(clientRef string) domain.Message
	err     error
	done    chan string
}

func (c *stubSendClient) SendMessage(_ context.Context, conversationID string, _ string, text string, clientRef string) (domain.Message, error) {
	defer func() {
		if c.done != nil {
			c.done <- clientRef
		}
	}()
	if c.err != nil {
		return domain.Message{}, c.err
	}
	if c.confirm != nil {
		return c.confirm(clientRef), nil
	}

	return domain.Message{
		ID:             "srv-1",
		ConversationID: conversationID,
		Sender:         domain.Sender{ID: "me", Name: "Me"},
		Text:           text,
		SentAt:         time.Now(),
		Status:         domain.MessageStatusSent,
	}, nil
}

func testSession() func() config.SessionConfig {
	return func() config.SessionConfig {
		return config.SessionConfig{UserID: "me", DisplayName: "Me"}
	}
}

func newSenderFixture(t *testing.T, client SendClient) (*MessageSender, *domain.ConversationStore, *bus.PubSubBus) {
	t.Helper()

	b := bus.New(nil)
	t.Cleanup(b.Close)
	conv := domain.NewConversationStore()

	return NewMessageSender(b, conv, client, testSession(), nil), conv, b
}

func awaitDispatch(t *testing.T, done chan string) string {
	t.Helper()

	select {
	case ref := <-done:
		return ref
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for send dispatch")

		return ""
	}
}

func TestSendInsertsOptimisticMessage(t *testing.T) {
	client := &stubSendClient{done: make(chan string, 1)}
	sender, conv, _ := newSenderFixture(t, client)
	ref := domain.ConversationRef{Kind: domain.ConversationKindClub, ID: "club-1"}

	local, err := sender.Send(context.Background(), ref, "  leaving now  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(local.ID, optimisticIDPrefix) {
		t.Fatalf("expected client-generated id, got %q", local.ID)
	}
	if !local.Optimistic || local.Status != domain.MessageStatusPending {
		t.Fatalf("expected pending optimistic message, got %+v", local)
	}
	if local.Text != "leaving now" {
		t.Fatalf("expected trimmed text, got %q", local.Text)
	}

	msgs := conv.Messages("club-1")
	if len(msgs) != 1 || msgs[0].ID != local.ID {
		t.Fatalf("expected optimistic row visible immediately, got %+v", msgs)
	}
	awaitDispatch(t, client.done)
}

func TestSendSuccessSwapsInConfirmedCopy(t *testing.T) {
	client := &stubSendClient{done: make(chan string, 1)}
	sender, conv, _ := newSenderFixture(t, client)
	ref := domain.ConversationRef{Kind: domain.ConversationKindClub, ID: "club-1"}

	local, err := sender.Send(context.Background(), ref, "done with the 10k")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := awaitDispatch(t, client.done); got != local.ID {
		t.Fatalf("expected client_ref %q, got %q", local.ID, got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		msgs := conv.Messages("club-1")
		if len(msgs) == 1 && msgs[0].ID == "srv-1" {
			if msgs[0].Optimistic || msgs[0].Status != domain.MessageStatusSent {
				t.Fatalf("expected confirmed row, got %+v", msgs[0])
			}

			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("confirmed copy never replaced optimistic row: %+v", msgs)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSendFailureMarksMessageFailed(t *testing.T) {
	client := &stubSendClient{err: errors.New("http 500"), done: make(chan string, 1)}
	sender, conv, b := newSenderFixture(t, client)
	ref := domain.ConversationRef{Kind: domain.ConversationKindDirect, ID: "dm-1"}
	sub := b.Subscribe(events.TopicSendFailed)

	local, err := sender.Send(context.Background(), ref, "you up?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	awaitDispatch(t, client.done)

	payload := awaitBusPayload(t, sub)
	failed, ok := payload.(events.SendFailed)
	if !ok {
		t.Fatalf("expected SendFailed, got %T", payload)
	}
	if failed.LocalID != local.ID {
		t.Fatalf("expected failure for %q, got %q", local.ID, failed.LocalID)
	}

	msgs := conv.Messages("dm-1")
	if len(msgs) != 1 || msgs[0].Status != domain.MessageStatusFailed {
		t.Fatalf("expected failed optimistic row kept visible, got %+v", msgs)
	}
}

func TestSendRejectsInvalidInput(t *testing.T) {
	sender, conv, _ := newSenderFixture(t, &stubSendClient{})
	ref := domain.ConversationRef{Kind: domain.ConversationKindClub, ID: "club-1"}

	if _, err := sender.Send(context.Background(), domain.ConversationRef{}, "hi"); !errors.Is(err, domain.ErrEmptyConversationID) {
		t.Fatalf("expected ErrEmptyConversationID, got %v", err)
	}
	if _, err := sender.Send(context.Background(), ref, "   "); !errors.Is(err, ErrEmptyMessageText) {
		t.Fatalf("expected ErrEmptyMessageText, got %v", err)
	}
	if len(conv.Messages("club-1")) != 0 {
		t.Fatalf("rejected sends must not insert rows")
	}
}
