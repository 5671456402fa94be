package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// FindOpenIncident returns the open incident with the same region and event
// type updated within the window, or nil.
func (db *DB) FindOpenIncident(ctx context.Context, region, eventType string, window time.Duration) (*domain.Incident, error) {
	const q = `
		SELECT id, created_at, updated_at, title, region, object_type,
			event_type, status, signals_count
		FROM incidents
		WHERE status = 'open' AND region = $1 AND event_type = $2 AND updated_at >= $3
		ORDER BY updated_at DESC
		LIMIT 1`

	var (
		inc    domain.Incident
		title  = toText("")
		reg    = toText("")
		object = toText("")
		event  = toText("")
	)

	err := db.Pool.QueryRow(ctx, q, region, eventType, time.Now().UTC().Add(-window)).Scan(
		&inc.ID, &inc.CreatedAt, &inc.UpdatedAt, &title, &reg, &object,
		&event, &inc.Status, &inc.SignalsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find open incident: %w", err)
	}

	inc.Title = fromText(title)
	inc.Region = fromText(reg)
	inc.ObjectType = fromText(object)
	inc.EventType = fromText(event)

	return &inc, nil
}

// TouchIncident increments the signal count and refreshes updated_at.
func (db *DB) TouchIncident(ctx context.Context, id int64) error {
	if _, err := db.Pool.Exec(ctx, `
		UPDATE incidents SET signals_count = signals_count + 1, updated_at = $2
		WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("touch incident: %w", err)
	}

	return nil
}

// CreateIncident opens a new cluster seeded by one signal.
func (db *DB) CreateIncident(ctx context.Context, inc *domain.Incident) (int64, error) {
	now := time.Now().UTC()

	var id int64
	if err := db.Pool.QueryRow(ctx, `
		INSERT INTO incidents (created_at, updated_at, title, region, object_type,
			event_type, status, signals_count)
		VALUES ($1, $1, $2, $3, $4, $5, 'open', 1)
		RETURNING id`,
		now, toText(inc.Title), toText(inc.Region), toText(inc.ObjectType),
		toText(inc.EventType),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("create incident: %w", err)
	}

	return id, nil
}

// DeleteOldIncidents removes incidents older than cutoff. This is the only
// way incidents close.
func (db *DB) DeleteOldIncidents(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM incidents WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old incidents: %w", err)
	}

	return tag.RowsAffected(), nil
}
