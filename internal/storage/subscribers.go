package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// Subscribe registers or reactivates a chat. The second return value is true
// when the subscriber did not exist before.
func (db *DB) Subscribe(ctx context.Context, chatID int64) (*domain.Subscriber, bool, error) {
	now := time.Now().UTC()

	var (
		sub     domain.Subscriber
		created bool
	)

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO subscribers (chat_id, created_at, is_active, last_seen_at)
		VALUES ($1, $2, TRUE, $2)
		ON CONFLICT (chat_id) DO UPDATE SET is_active = TRUE, last_seen_at = EXCLUDED.last_seen_at
		RETURNING chat_id, created_at, is_active, last_seen_at, (xmax = 0)`,
		chatID, now,
	).Scan(&sub.ChatID, &sub.CreatedAt, &sub.IsActive, &sub.LastSeenAt, &created)
	if err != nil {
		return nil, false, fmt.Errorf("subscribe: %w", err)
	}

	return &sub, created, nil
}

// Unsubscribe deactivates a chat. Rows are kept so resubscription preserves
// the original created_at.
func (db *DB) Unsubscribe(ctx context.Context, chatID int64) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE subscribers SET is_active = FALSE WHERE chat_id = $1`, chatID); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}

	return nil
}

// DeactivateSubscriber marks a chat inactive after a delivery failure that
// indicates the bot was blocked or the chat is gone.
func (db *DB) DeactivateSubscriber(ctx context.Context, chatID int64) error {
	return db.Unsubscribe(ctx, chatID)
}

// ActiveSubscribers lists chats eligible for delivery.
func (db *DB) ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT chat_id, created_at, is_active, last_seen_at
		FROM subscribers
		WHERE is_active
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("active subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber

	for rows.Next() {
		var (
			sub      domain.Subscriber
			lastSeen = toTimestamptzPtr(nil)
		)

		if err := rows.Scan(&sub.ChatID, &sub.CreatedAt, &sub.IsActive, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}

		sub.LastSeenAt = fromTimestamptzPtr(lastSeen)
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

// TouchSubscriber updates last_seen_at for an interacting chat.
func (db *DB) TouchSubscriber(ctx context.Context, chatID int64) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE subscribers SET last_seen_at = $2 WHERE chat_id = $1`,
		chatID, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch subscriber: %w", err)
	}

	return nil
}
