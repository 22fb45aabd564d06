package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"paceclub/internal/bus"
	"paceclub/internal/config"
	"paceclub/internal/domain"
	"paceclub/internal/events"
	"paceclub/internal/notifications"
)

const (
	notificationTitleReadFailed = "Couldn't mark conversation read"
	notificationTitleSendFailed = "Message not sent"
	previewMaxLen               = 120
)

// NotificationService listens to bus events and emits user-facing
// desktop notifications: incoming messages for conversations that are
// not on screen, and the non-fatal failures the sync core surfaces.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	isForeground  func() bool
	sender        notifications.Sender
	logger        *slog.Logger
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	isForeground func() bool,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		isForeground:  isForeground,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	sub := s.bus.Subscribe(events.TopicUnreadChanged, events.TopicReadError, events.TopicSendFailed)

	go func() {
		defer s.bus.Unsubscribe(sub, events.TopicUnreadChanged, events.TopicReadError, events.TopicSendFailed)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				switch payload := raw.(type) {
				case events.UnreadChanged:
					s.handleUnreadChanged(payload)
				case events.ReadError:
					s.handleReadError(payload)
				case events.SendFailed:
					s.handleSendFailed(payload)
				}
			}
		}
	}()
}

func (s *NotificationService) handleUnreadChanged(event events.UnreadChanged) {
	// Resync and mutation completions publish unread changes without a
	// sender; only fresh incoming messages carry one and deserve a toast.
	if event.SenderName == "" && event.Preview == "" {
		return
	}
	prefs := s.notificationPrefs()
	if !s.shouldNotify(prefs, prefs.Events.IncomingMessage) {
		return
	}

	sender := strings.TrimSpace(event.SenderName)
	if sender == "" {
		sender = "unknown"
	}
	preview := strings.TrimSpace(event.Preview)
	if preview == "" {
		preview = "(empty)"
	}
	if len(preview) > previewMaxLen {
		preview = preview[:previewMaxLen] + "…"
	}

	titlePrefix := "#"
	if event.Conversation.Kind == domain.ConversationKindDirect {
		titlePrefix = "@"
	}
	subject := sender
	if event.Conversation.Kind == domain.ConversationKindClub {
		subject = event.Conversation.ID
	}

	s.send(notifications.Payload{
		Title:   titlePrefix + subject,
		Content: fmt.Sprintf("%s: %s", sender, preview),
	})
}

func (s *NotificationService) handleReadError(event events.ReadError) {
	prefs := s.notificationPrefs()
	if !prefs.Events.ReadFailure {
		return
	}

	detail := fmt.Sprintf("Gave up after %d attempts; unread state was restored.", event.Attempts)
	s.send(notifications.Payload{
		Title:   notificationTitleReadFailed,
		Content: detail,
	})
}

func (s *NotificationService) handleSendFailed(event events.SendFailed) {
	prefs := s.notificationPrefs()
	if !prefs.Events.SendFailure {
		return
	}

	s.send(notifications.Payload{
		Title:   notificationTitleSendFailed,
		Content: "Your message could not be delivered. Tap to retry.",
	})
}

func (s *NotificationService) shouldNotify(prefs config.NotificationConfig, kindEnabled bool) bool {
	if !kindEnabled {
		return false
	}
	if prefs.NotifyWhenFocused {
		return true
	}
	if s.isForeground == nil {
		return true
	}

	return !s.isForeground()
}

func (s *NotificationService) notificationPrefs() config.NotificationConfig {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
		cfg.FillMissingDefaults()
	}

	return cfg.Notifications
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	s.sender.Send(notifications.Payload{
		Title:   title,
		Content: content,
	})
}
