package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// InsertPendingSignal records one LLM-approved candidate for ranked
// selection at the end of the cycle.
func (db *DB) InsertPendingSignal(ctx context.Context, p *domain.PendingSignal) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO pending_signals (news_id, created_at, priority_score, relevance,
			urgency, event_type, object_type, message_text, region, why, cycle_date, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'pending')
		ON CONFLICT (news_id) DO NOTHING
		RETURNING id`,
		p.NewsID, time.Now().UTC(), p.PriorityScore, p.Relevance, p.Urgency,
		toText(p.EventType), toText(p.ObjectType), p.MessageText,
		toText(p.Region), toText(p.Why), p.CycleDate,
	).Scan(&id)

	// A conflict on news_id returns no row; the candidate is already queued.
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("insert pending signal: %w", err)
	}

	return id, nil
}

// PendingSignalsForCycle lists a cycle's pending candidates, best first.
func (db *DB) PendingSignalsForCycle(ctx context.Context, cycleDate string) ([]domain.PendingSignal, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, news_id, created_at, priority_score, relevance, urgency,
			event_type, object_type, message_text, region, why, cycle_date, status
		FROM pending_signals
		WHERE cycle_date = $1 AND status = 'pending'
		ORDER BY priority_score DESC, created_at`, cycleDate)
	if err != nil {
		return nil, fmt.Errorf("pending signals for cycle: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingSignal

	for rows.Next() {
		var (
			p      domain.PendingSignal
			event  = toText("")
			object = toText("")
			region = toText("")
			why    = toText("")
		)

		if err := rows.Scan(&p.ID, &p.NewsID, &p.CreatedAt, &p.PriorityScore,
			&p.Relevance, &p.Urgency, &event, &object, &p.MessageText,
			&region, &why, &p.CycleDate, &p.Status); err != nil {
			return nil, fmt.Errorf("scan pending signal: %w", err)
		}

		p.EventType = fromText(event)
		p.ObjectType = fromText(object)
		p.Region = fromText(region)
		p.Why = fromText(why)
		out = append(out, p)
	}

	return out, rows.Err()
}

// MarkPendingSignal finalizes one candidate as sent or skipped.
func (db *DB) MarkPendingSignal(ctx context.Context, id int64, status string) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE pending_signals SET status = $2 WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("mark pending signal: %w", err)
	}

	return nil
}

// AddToWatchlist keeps a borderline item for review.
func (db *DB) AddToWatchlist(ctx context.Context, newsID int64, reason string, score float64) error {
	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO watchlist (news_id, created_at, reason, score)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (news_id) DO NOTHING`,
		newsID, time.Now().UTC(), reason, score); err != nil {
		return fmt.Errorf("add to watchlist: %w", err)
	}

	return nil
}

// DeleteOldWatchlist trims review items older than cutoff.
func (db *DB) DeleteOldWatchlist(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM watchlist WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old watchlist: %w", err)
	}

	return tag.RowsAffected(), nil
}

// DeleteOldPendingSignals trims finalized candidates older than cutoff.
func (db *DB) DeleteOldPendingSignals(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM pending_signals WHERE created_at < $1 AND status <> 'pending'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old pending signals: %w", err)
	}

	return tag.RowsAffected(), nil
}
