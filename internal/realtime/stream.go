package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paceclub/internal/bus"
	"paceclub/internal/domain"
	"paceclub/internal/events"
)

const (
	ChannelClubMessages   = "club_messages"
	ChannelDirectMessages = "direct_messages"

	defaultHandshakeTimeout = 6 * time.Second
	defaultReconnectMin     = time.Second
	defaultReconnectMax     = 30 * time.Second
	pingInterval            = 25 * time.Second
	readTimeout             = 60 * time.Second
	writeTimeout            = 10 * time.Second
)

// StreamConfig customizes the live-feed connection.
type StreamConfig struct {
	URL          string
	AuthToken    string
	Bus          bus.MessageBus
	Logger       *slog.Logger
	Dialer       *websocket.Dialer
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Stream maintains the websocket connection carrying the two live change
// feeds (club and direct messages) and publishes each decoded event on
// the appropriate bus topic. It reconnects with capped exponential
// backoff and reports its lifecycle on the feed status topic.
type Stream struct {
	url          string
	token        string
	bus          bus.MessageBus
	logger       *slog.Logger
	dialer       *websocket.Dialer
	reconnectMin time.Duration
	reconnectMax time.Duration

	startOnce sync.Once
}

func NewStream(cfg StreamConfig) (*Stream, error) {
	streamURL := strings.TrimSpace(cfg.URL)
	if streamURL == "" {
		return nil, errors.New("realtime url is empty")
	}
	if cfg.Bus == nil {
		return nil, errors.New("message bus is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "realtime")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	}
	reconnectMin := cfg.ReconnectMin
	if reconnectMin <= 0 {
		reconnectMin = defaultReconnectMin
	}
	reconnectMax := cfg.ReconnectMax
	if reconnectMax < reconnectMin {
		reconnectMax = defaultReconnectMax
	}

	return &Stream{
		url:          streamURL,
		token:        strings.TrimSpace(cfg.AuthToken),
		bus:          cfg.Bus,
		logger:       logger,
		dialer:       dialer,
		reconnectMin: reconnectMin,
		reconnectMax: reconnectMax,
	}, nil
}

func (s *Stream) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
	})
}

func (s *Stream) run(ctx context.Context) {
	backoff := s.reconnectMin
	firstAttempt := true

	for {
		if ctx.Err() != nil {
			return
		}

		state := events.FeedStateConnecting
		if !firstAttempt {
			state = events.FeedStateReconnecting
		}
		s.publishStatus(state, nil)

		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			s.publishStatus(events.FeedStateDisconnected, nil)

			return
		}
		s.publishStatus(events.FeedStateDisconnected, err)
		firstAttempt = false

		s.logger.Warn("feed connection lost", "error", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.reconnectMax {
			backoff = s.reconnectMax
		}
	}
}

type subscribeFrame struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
	Token    string   `json:"token,omitempty"`
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	s.logger.Info("connecting to feed", "url", s.url)
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(subscribeFrame{
		Type:     "subscribe",
		Channels: []string{ChannelClubMessages, ChannelDirectMessages},
		Token:    s.token,
	})
	if err != nil {
		return fmt.Errorf("subscribe to channels: %w", err)
	}

	s.logger.Info("feed connected")
	s.publishStatus(events.FeedStateConnected, nil)

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read feed frame: %w", err)
		}
		s.handleFrame(raw)
	}
}

func (s *Stream) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", "error", err)

				return
			}
		}
	}
}

func (s *Stream) handleFrame(raw []byte) {
	event, topic, err := DecodeFrame(raw)
	if err != nil {
		s.logger.Warn("drop undecodable feed frame", "error", err, "len", len(raw))

		return
	}
	s.bus.Publish(topic, event)
}

func (s *Stream) publishStatus(state events.FeedState, cause error) {
	status := events.FeedStatus{
		State:     state,
		Target:    s.url,
		Timestamp: time.Now(),
	}
	if cause != nil {
		status.Err = cause.Error()
	}
	s.bus.Publish(events.TopicFeedStatus, status)
}

type wireFrame struct {
	Channel        string    `json:"channel"`
	Kind           string    `json:"kind"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	MessageID      string    `json:"message_id"`
	SenderName     string    `json:"sender_name"`
	SenderAvatar   string    `json:"sender_avatar"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// DecodeFrame parses one raw feed frame into a typed message event and
// the bus topic it belongs on.
func DecodeFrame(raw []byte) (events.MessageEvent, string, error) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return events.MessageEvent{}, "", fmt.Errorf("decode feed frame: %w", err)
	}

	var (
		kind  domain.ConversationKind
		topic string
	)
	switch frame.Channel {
	case ChannelClubMessages:
		kind = domain.ConversationKindClub
		topic = events.TopicClubMessage
	case ChannelDirectMessages:
		kind = domain.ConversationKindDirect
		topic = events.TopicDirectMessage
	default:
		return events.MessageEvent{}, "", fmt.Errorf("unknown feed channel: %q", frame.Channel)
	}

	eventKind := events.EventKind(frame.Kind)
	switch eventKind {
	case events.EventKindInsert, events.EventKindUpdate, events.EventKindDelete:
	default:
		return events.MessageEvent{}, "", fmt.Errorf("unknown event kind: %q", frame.Kind)
	}

	if strings.TrimSpace(frame.ConversationID) == "" {
		return events.MessageEvent{}, "", errors.New("feed frame has no conversation id")
	}

	return events.MessageEvent{
		Kind:         eventKind,
		Conversation: domain.ConversationRef{Kind: kind, ID: frame.ConversationID},
		MessageID:    frame.MessageID,
		SenderID:     frame.SenderID,
		SenderName:   frame.SenderName,
		SenderAvatar: frame.SenderAvatar,
		Text:         frame.Text,
		SentAt:       frame.Timestamp,
	}, topic, nil
}
