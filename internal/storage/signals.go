package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// Advisory lock class for the daily signal limit; day number is the second
// key. Class 1000 is taken by migrations.
const signalLimitLockClass = 1001

// TryCreateSignalIfUnderLimit counts today's signals and inserts the new one
// in the same transaction, only when the count is below maxPerDay. Returns
// nil when the limit is reached. The day boundary follows loc.
//
// A transaction-scoped advisory lock on the day serializes concurrent
// checks: without it two transactions could both read count < maxPerDay and
// both insert.
func (db *DB) TryCreateSignalIfUnderLimit(
	ctx context.Context,
	sig *domain.Signal,
	maxPerDay int,
	loc *time.Location,
) (*domain.Signal, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin signal tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	start, end := DayBounds(time.Now().UTC(), loc)

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock($1, $2)`,
		signalLimitLockClass, int32(start.Unix()/86400),
	); err != nil {
		return nil, fmt.Errorf("lock signal day: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM signals WHERE sent_at >= $1 AND sent_at < $2`,
		start, end,
	).Scan(&count); err != nil {
		return nil, fmt.Errorf("count today signals: %w", err)
	}

	if count >= maxPerDay {
		return nil, nil
	}

	created := *sig
	if created.SentAt.IsZero() {
		created.SentAt = time.Now().UTC()
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO signals (news_id, sent_at, event_type, urgency, object_type,
			sphere, region, why, message_text, recipients_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		created.NewsID, created.SentAt, toText(created.EventType), created.Urgency,
		toText(created.ObjectType), toText(created.Sphere), toText(created.Region),
		toText(created.Why), created.MessageText, created.RecipientsCount,
	).Scan(&created.ID); err != nil {
		return nil, fmt.Errorf("insert signal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit signal tx: %w", err)
	}

	return &created, nil
}

// CountSignalsToday counts signals sent during the current day in loc.
func (db *DB) CountSignalsToday(ctx context.Context, loc *time.Location) (int, error) {
	start, end := DayBounds(time.Now().UTC(), loc)

	var count int
	if err := db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM signals WHERE sent_at >= $1 AND sent_at < $2`,
		start, end,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count signals today: %w", err)
	}

	return count, nil
}

// FindSimilarRecentSignal returns the most recent signal with the same event
// type, region and object type within the window, or nil.
func (db *DB) FindSimilarRecentSignal(
	ctx context.Context,
	eventType, region, objectType string,
	window time.Duration,
) (*domain.Signal, error) {
	const q = `
		SELECT id, news_id, sent_at, event_type, urgency, object_type, sphere,
			region, why, message_text, recipients_count, feedback_score
		FROM signals
		WHERE event_type = $1 AND region = $2 AND object_type = $3 AND sent_at >= $4
		ORDER BY sent_at DESC
		LIMIT 1`

	row := db.Pool.QueryRow(ctx, q, eventType, region, objectType, time.Now().UTC().Add(-window))

	sig, err := scanSignal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find similar signal: %w", err)
	}

	return sig, nil
}

// UpdateSignalRecipients stores the delivered-recipient count.
func (db *DB) UpdateSignalRecipients(ctx context.Context, id int64, count int) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE signals SET recipients_count = $2 WHERE id = $1`, id, count); err != nil {
		return fmt.Errorf("update signal recipients: %w", err)
	}

	return nil
}

// UpdateSignalFeedback records admin feedback (+1 or -1).
func (db *DB) UpdateSignalFeedback(ctx context.Context, id int64, score int) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE signals SET feedback_score = $2 WHERE id = $1`, id, score); err != nil {
		return fmt.Errorf("update signal feedback: %w", err)
	}

	return nil
}

// SignalsSince lists signals sent since the given time, newest first.
func (db *DB) SignalsSince(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, news_id, sent_at, event_type, urgency, object_type, sphere,
			region, why, message_text, recipients_count, feedback_score
		FROM signals
		WHERE sent_at >= $1
		ORDER BY sent_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("signals since: %w", err)
	}
	defer rows.Close()

	var signals []domain.Signal

	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}

		signals = append(signals, *sig)
	}

	return signals, rows.Err()
}

func scanSignal(row pgx.Row) (*domain.Signal, error) {
	var (
		sig    domain.Signal
		event  = toText("")
		object = toText("")
		sphere = toText("")
		region = toText("")
		why    = toText("")
	)

	if err := row.Scan(
		&sig.ID, &sig.NewsID, &sig.SentAt, &event, &sig.Urgency, &object,
		&sphere, &region, &why, &sig.MessageText, &sig.RecipientsCount,
		&sig.FeedbackScore,
	); err != nil {
		return nil, err
	}

	sig.EventType = fromText(event)
	sig.ObjectType = fromText(object)
	sig.Sphere = fromText(sphere)
	sig.Region = fromText(region)
	sig.Why = fromText(why)

	return &sig, nil
}
