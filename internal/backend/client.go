package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paceclub/internal/domain"
)

const (
	defaultRequestTimeout = 15 * time.Second
	defaultMessagesLimit  = 50
)

var ErrMissingBaseURL = errors.New("backend base url is empty")

// ClientConfig customizes the backend API client.
type ClientConfig struct {
	BaseURL    string
	AuthToken  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the hosted PaceClub backend, the system of record for
// conversations, messages, and read receipts.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "backend")
	}

	return &Client{
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.AuthToken),
		client:  client,
		logger:  logger,
	}, nil
}

type markReadRequest struct {
	UserID string `json:"user_id"`
}

// MarkClubConversationRead persists a read receipt for a club chat.
func (c *Client) MarkClubConversationRead(ctx context.Context, clubID string, userID string) error {
	path := fmt.Sprintf("/v1/clubs/%s/read", url.PathEscape(clubID))

	return c.post(ctx, path, markReadRequest{UserID: userID}, nil)
}

// MarkDirectConversationRead persists a read receipt for a DM thread.
func (c *Client) MarkDirectConversationRead(ctx context.Context, conversationID string, userID string) error {
	path := fmt.Sprintf("/v1/conversations/%s/read", url.PathEscape(conversationID))

	return c.post(ctx, path, markReadRequest{UserID: userID}, nil)
}

type unreadCountsResponse struct {
	ClubUnread map[string]int `json:"club_unread"`
	DMUnread   map[string]int `json:"dm_unread"`
}

// GetUnreadCounts fetches the authoritative unread snapshot for a user.
func (c *Client) GetUnreadCounts(ctx context.Context, userID string) (domain.UnreadCounts, error) {
	path := fmt.Sprintf("/v1/users/%s/unread", url.PathEscape(userID))

	var payload unreadCountsResponse
	if err := c.get(ctx, path, &payload); err != nil {
		return domain.UnreadCounts{}, err
	}

	counts := domain.UnreadCounts{
		ClubUnread: payload.ClubUnread,
		DMUnread:   payload.DMUnread,
	}
	if counts.ClubUnread == nil {
		counts.ClubUnread = map[string]int{}
	}
	if counts.DMUnread == nil {
		counts.DMUnread = map[string]int{}
	}

	return counts, nil
}

type wireMessage struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation_id"`
	SenderID     string    `json:"sender_id"`
	SenderName   string    `json:"sender_name"`
	SenderAvatar string    `json:"sender_avatar"`
	Text         string    `json:"text"`
	Timestamp    time.Time `json:"timestamp"`
}

func (m wireMessage) toDomain(conversationID string) domain.Message {
	if m.Conversation == "" {
		m.Conversation = conversationID
	}

	return domain.Message{
		ID:             m.ID,
		ConversationID: m.Conversation,
		Sender: domain.Sender{
			ID:     m.SenderID,
			Name:   m.SenderName,
			Avatar: m.SenderAvatar,
		},
		Text:   m.Text,
		SentAt: m.Timestamp,
		Status: domain.MessageStatusSent,
	}
}

// FetchMessages loads the most recent messages of a conversation, ordered
// ascending by timestamp.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = defaultMessagesLimit
	}
	path := fmt.Sprintf("/v1/conversations/%s/messages?limit=%s",
		url.PathEscape(conversationID), strconv.Itoa(limit))

	var payload []wireMessage
	if err := c.get(ctx, path, &payload); err != nil {
		return nil, err
	}

	out := make([]domain.Message, 0, len(payload))
	for _, item := range payload {
		out = append(out, item.toDomain(conversationID))
	}

	return out, nil
}

type sendMessageRequest struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	ClientRef string `json:"client_ref"`
}

// SendMessage posts a new message. ClientRef carries the optimistic local
// id so the backend can echo it back for exact reconciliation.
func (c *Client) SendMessage(ctx context.Context, conversationID string, userID string, text string, clientRef string) (domain.Message, error) {
	path := fmt.Sprintf("/v1/conversations/%s/messages", url.PathEscape(conversationID))

	var payload wireMessage
	err := c.post(ctx, path, sendMessageRequest{
		UserID:    userID,
		Text:      text,
		ClientRef: clientRef,
	}, &payload)
	if err != nil {
		return domain.Message{}, err
	}

	return payload.toDomain(conversationID), nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("backend request", "method", req.Method, "path", req.URL.Path)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		trimmed := strings.TrimSpace(string(body))
		if trimmed == "" {
			return fmt.Errorf("%s %s: unexpected status %d", req.Method, req.URL.Path, resp.StatusCode)
		}

		return fmt.Errorf("%s %s: unexpected status %d: %s", req.Method, req.URL.Path, resp.StatusCode, trimmed)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// ClubReads binds the club read endpoint to the domain persister contract.
func (c *Client) ClubReads() domain.ReadPersister {
	return clubReads{client: c}
}

// DirectReads binds the DM read endpoint to the domain persister contract.
func (c *Client) DirectReads() domain.ReadPersister {
	return directReads{client: c}
}

type clubReads struct {
	client *Client
}

func (p clubReads) MarkConversationRead(ctx context.Context, conversationID string, userID string) error {
	return p.client.MarkClubConversationRead(ctx, conversationID, userID)
}

type directReads struct {
	client *Client
}

func (p directReads) MarkConversationRead(ctx context.Context, conversationID string, userID string) error {
	return p.client.MarkDirectConversationRead(ctx, conversationID, userID)
}
