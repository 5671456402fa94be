package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// ConfigOverrides loads the override map applied on top of the YAML config.
func (db *DB) ConfigOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT key, value FROM config_overrides`)
	if err != nil {
		return nil, fmt.Errorf("config overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan override: %w", err)
		}

		overrides[k] = v
	}

	return overrides, rows.Err()
}

// SetConfigOverride upserts one override and writes the audit trail entry in
// the same transaction.
func (db *DB) SetConfigOverride(ctx context.Context, key, value string, updatedBy int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin override tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var old = toText("")
	_ = tx.QueryRow(ctx,
		`SELECT value FROM config_overrides WHERE key = $1`, key).Scan(&old)

	now := time.Now().UTC()

	if _, err := tx.Exec(ctx, `
		INSERT INTO config_overrides (key, value, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by`,
		key, value, now, updatedBy); err != nil {
		return fmt.Errorf("set override: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO config_audit (timestamp, user_id, action, key, old_value, new_value, source)
		VALUES ($1, $2, 'set', $3, $4, $5, 'command')`,
		now, updatedBy, key, old, toText(value)); err != nil {
		return fmt.Errorf("audit override: %w", err)
	}

	return tx.Commit(ctx)
}

// ResetConfigOverride deletes one override, with an audit entry.
func (db *DB) ResetConfigOverride(ctx context.Context, key string, updatedBy int64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin override tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var old = toText("")
	_ = tx.QueryRow(ctx,
		`SELECT value FROM config_overrides WHERE key = $1`, key).Scan(&old)

	if _, err := tx.Exec(ctx,
		`DELETE FROM config_overrides WHERE key = $1`, key); err != nil {
		return fmt.Errorf("reset override: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO config_audit (timestamp, user_id, action, key, old_value, new_value, source)
		VALUES ($1, $2, 'reset', $3, $4, NULL, 'command')`,
		time.Now().UTC(), updatedBy, key, old); err != nil {
		return fmt.Errorf("audit override reset: %w", err)
	}

	return tx.Commit(ctx)
}

// ConfigAuditSince lists audit entries newest first.
func (db *DB) ConfigAuditSince(ctx context.Context, since time.Time, limit int) ([]domain.ConfigAuditEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, timestamp, user_id, action, key, old_value, new_value, source
		FROM config_audit
		WHERE timestamp >= $1
		ORDER BY timestamp DESC
		LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("config audit since: %w", err)
	}
	defer rows.Close()

	var entries []domain.ConfigAuditEntry

	for rows.Next() {
		var (
			e        domain.ConfigAuditEntry
			oldValue = toText("")
			newValue = toText("")
		)

		if err := rows.Scan(&e.ID, &e.Timestamp, &e.UserID, &e.Action, &e.Key,
			&oldValue, &newValue, &e.Source); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}

		e.OldValue = fromText(oldValue)
		e.NewValue = fromText(newValue)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
