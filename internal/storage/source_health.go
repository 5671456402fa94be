package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// disableAfterFailures is the consecutive-failure count that auto-disables
// a source.
const disableAfterFailures = 10

// RecordSourceSuccess resets the failure streak and bumps the totals.
func (db *DB) RecordSourceSuccess(ctx context.Context, sourceID string) error {
	now := time.Now().UTC()

	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO source_health (source_id, consecutive_failures, total_fetches, last_ok_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (source_id) DO UPDATE SET
			consecutive_failures = 0,
			total_fetches = source_health.total_fetches + 1,
			last_ok_at = EXCLUDED.last_ok_at`,
		sourceID, now); err != nil {
		return fmt.Errorf("record source success: %w", err)
	}

	return nil
}

// RecordSourceFailure bumps the failure counters and disables the source
// once the consecutive-failure threshold is reached. Returns true when this
// call disabled the source.
func (db *DB) RecordSourceFailure(ctx context.Context, sourceID string, statusCode int, message string) (bool, error) {
	now := time.Now().UTC()

	var disabledNow bool
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO source_health (source_id, consecutive_failures, total_fetches, total_failures,
			last_error_at, last_status_code, last_error_message)
		VALUES ($1, 1, 1, 1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE SET
			consecutive_failures = source_health.consecutive_failures + 1,
			total_fetches = source_health.total_fetches + 1,
			total_failures = source_health.total_failures + 1,
			last_error_at = EXCLUDED.last_error_at,
			last_status_code = EXCLUDED.last_status_code,
			last_error_message = EXCLUDED.last_error_message,
			is_disabled = source_health.is_disabled
				OR source_health.consecutive_failures + 1 >= $5,
			disabled_at = CASE
				WHEN NOT source_health.is_disabled
					AND source_health.consecutive_failures + 1 >= $5
				THEN EXCLUDED.last_error_at ELSE source_health.disabled_at END,
			disabled_reason = CASE
				WHEN NOT source_health.is_disabled
					AND source_health.consecutive_failures + 1 >= $5
				THEN 'consecutive_failures' ELSE source_health.disabled_reason END
		RETURNING is_disabled AND consecutive_failures = $5`,
		sourceID, now, toInt4(statusCode), toText(truncateError(message)), disableAfterFailures,
	).Scan(&disabledNow)
	if err != nil {
		return false, fmt.Errorf("record source failure: %w", err)
	}

	return disabledNow, nil
}

// DisabledSourceIDs lists currently disabled sources.
func (db *DB) DisabledSourceIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT source_id FROM source_health WHERE is_disabled`)
	if err != nil {
		return nil, fmt.Errorf("disabled sources: %w", err)
	}
	defer rows.Close()

	disabled := make(map[string]bool)

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan disabled source: %w", err)
		}

		disabled[id] = true
	}

	return disabled, rows.Err()
}

// ReEnableCooledSource re-enables at most one source whose disable timestamp
// is older than the cooldown, and returns its id. Empty string means nothing
// was eligible.
func (db *DB) ReEnableCooledSource(ctx context.Context, cooldown time.Duration) (string, error) {
	cutoff := time.Now().UTC().Add(-cooldown)

	var id string
	err := db.Pool.QueryRow(ctx, `
		UPDATE source_health SET
			is_disabled = FALSE,
			consecutive_failures = 0,
			disabled_at = NULL,
			disabled_reason = NULL
		WHERE source_id = (
			SELECT source_id FROM source_health
			WHERE is_disabled AND disabled_at < $1
			ORDER BY disabled_at
			LIMIT 1)
		RETURNING source_id`, cutoff).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("re-enable source: %w", err)
	}

	return id, nil
}

// SourceHealthSnapshot loads all health rows for /stats and the weekly
// report.
func (db *DB) SourceHealthSnapshot(ctx context.Context) ([]domain.SourceHealth, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT source_id, consecutive_failures, total_fetches, total_failures,
			last_ok_at, last_error_at, last_status_code, last_error_message,
			is_disabled, disabled_at, disabled_reason
		FROM source_health
		ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("source health snapshot: %w", err)
	}
	defer rows.Close()

	var out []domain.SourceHealth

	for rows.Next() {
		var (
			h          domain.SourceHealth
			lastOK     = toTimestamptzPtr(nil)
			lastErr    = toTimestamptzPtr(nil)
			disabledAt = toTimestamptzPtr(nil)
			statusCode = toInt4(0)
			errMsg     = toText("")
			reason     = toText("")
		)

		if err := rows.Scan(&h.SourceID, &h.ConsecutiveFailures, &h.TotalFetches,
			&h.TotalFailures, &lastOK, &lastErr, &statusCode, &errMsg,
			&h.IsDisabled, &disabledAt, &reason); err != nil {
			return nil, fmt.Errorf("scan source health: %w", err)
		}

		h.LastOKAt = fromTimestamptzPtr(lastOK)
		h.LastErrorAt = fromTimestamptzPtr(lastErr)
		h.LastStatusCode = int(statusCode.Int32)
		h.LastErrorMessage = fromText(errMsg)
		h.DisabledAt = fromTimestamptzPtr(disabledAt)
		h.DisabledReason = fromText(reason)
		out = append(out, h)
	}

	return out, rows.Err()
}

func truncateError(msg string) string {
	const max = 500
	if len(msg) <= max {
		return msg
	}

	return msg[:max]
}
