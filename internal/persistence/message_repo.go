package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"paceclub/internal/domain"
)

// MessageRepo caches confirmed messages locally so conversations render
// instantly on the next launch. Optimistic messages never hit the cache;
// the backend remains the system of record.
type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Upsert(ctx context.Context, m domain.Message) error {
	if m.Optimistic || strings.TrimSpace(m.ID) == "" {
		return nil
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages(id, conversation_id, sender_id, sender_name, sender_avatar, body, sent_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			sender_name = CASE
				WHEN length(excluded.sender_name) > 0 THEN excluded.sender_name
				ELSE messages.sender_name
			END,
			sender_avatar = CASE
				WHEN length(excluded.sender_avatar) > 0 THEN excluded.sender_avatar
				ELSE messages.sender_avatar
			END,
			body = excluded.body
	`, m.ID, m.ConversationID, m.Sender.ID, m.Sender.Name, m.Sender.Avatar, m.Text, toUnixMillis(m.SentAt))
	if err != nil {
		return fmt.Errorf("upsert cached message: %w", err)
	}

	return nil
}

func (r *MessageRepo) Delete(ctx context.Context, conversationID string, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM messages WHERE conversation_id = ? AND id = ?
	`, conversationID, messageID)
	if err != nil {
		return fmt.Errorf("delete cached message: %w", err)
	}

	return nil
}

func (r *MessageRepo) ListRecentByConversation(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, sender_avatar, body, sent_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY sent_at DESC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cached messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Message
	for rows.Next() {
		var (
			m      domain.Message
			sentMs int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Sender.ID, &m.Sender.Name, &m.Sender.Avatar, &m.Text, &sentMs); err != nil {
			return nil, fmt.Errorf("scan cached message: %w", err)
		}
		m.SentAt = fromUnixMillis(sentMs)
		m.Status = domain.MessageStatusSent
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cached messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (r *MessageRepo) LoadRecentPerConversation(ctx context.Context, limit int) (map[string][]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT conversation_id FROM messages`)
	if err != nil {
		return nil, fmt.Errorf("list cached conversation ids: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation ids: %w", err)
	}

	result := make(map[string][]domain.Message, len(ids))
	for _, id := range ids {
		msgs, err := r.ListRecentByConversation(ctx, id, limit)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			result[id] = msgs
		}
	}

	return result, nil
}
