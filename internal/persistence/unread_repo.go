package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"paceclub/internal/domain"
)

// UnreadRepo stores the last authoritative unread snapshot per
// conversation kind, so badges render a plausible value before the first
// resync completes.
type UnreadRepo struct {
	db *sql.DB
}

func NewUnreadRepo(db *sql.DB) *UnreadRepo {
	return &UnreadRepo{db: db}
}

func (r *UnreadRepo) ReplaceSnapshot(ctx context.Context, kind domain.ConversationKind, counts map[string]int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin unread snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM unread_snapshot WHERE kind = ?`, int(kind)); err != nil {
		return fmt.Errorf("clear unread snapshot: %w", err)
	}

	now := time.Now().UnixMilli()
	for id, count := range counts {
		if count <= 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO unread_snapshot(kind, conversation_id, count, updated_at)
			VALUES(?, ?, ?, ?)
		`, int(kind), id, count, now)
		if err != nil {
			return fmt.Errorf("insert unread snapshot row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unread snapshot: %w", err)
	}

	return nil
}

func (r *UnreadRepo) LoadSnapshot(ctx context.Context, kind domain.ConversationKind) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, count
		FROM unread_snapshot
		WHERE kind = ?
	`, int(kind))
	if err != nil {
		return nil, fmt.Errorf("load unread snapshot: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	out := make(map[string]int)
	for rows.Next() {
		var (
			id    string
			count int
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("scan unread snapshot row: %w", err)
		}
		if count > 0 {
			out[id] = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unread snapshot: %w", err)
	}

	return out, nil
}
