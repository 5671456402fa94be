package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AcquireLock takes the named lock for ttl. It is a single atomic
// insert-or-update-if-expired: the statement only succeeds when no row
// exists or the existing row has expired. Returns false when another holder
// still owns the lock.
func (db *DB) AcquireLock(ctx context.Context, name string, ttl time.Duration, holderID string) (bool, error) {
	now := time.Now().UTC()

	var acquired string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO processing_locks (lock_name, acquired_at, expires_at, instance_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lock_name) DO UPDATE
			SET acquired_at = EXCLUDED.acquired_at,
			    expires_at = EXCLUDED.expires_at,
			    instance_id = EXCLUDED.instance_id
			WHERE processing_locks.expires_at < $2
		RETURNING lock_name`,
		name, now, now.Add(ttl), holderID,
	).Scan(&acquired)

	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	return true, nil
}

// ReleaseLock drops the named lock.
func (db *DB) ReleaseLock(ctx context.Context, name string) error {
	if _, err := db.Pool.Exec(ctx,
		`DELETE FROM processing_locks WHERE lock_name = $1`, name); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}

	return nil
}
