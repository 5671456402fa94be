package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// RecordLLMUsage appends one ledger row. Every LLM attempt is recorded,
// including failures.
func (db *DB) RecordLLMUsage(ctx context.Context, e *domain.LLMUsageEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if _, err := db.Pool.Exec(ctx, `
		INSERT INTO llm_usage (timestamp, provider, model, prompt_tokens,
			completion_tokens, total_cost, latency_ms, http_status, error_type, context)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ts, e.Provider, e.Model, e.PromptTokens, e.CompletionTokens,
		e.TotalCost, e.LatencyMS, e.HTTPStatus, toText(e.ErrorType), toText(e.Context),
	); err != nil {
		return fmt.Errorf("record llm usage: %w", err)
	}

	return nil
}

// DailyLLMCost sums the estimated cost for the current day in loc.
func (db *DB) DailyLLMCost(ctx context.Context, loc *time.Location) (float64, error) {
	start, end := DayBounds(time.Now().UTC(), loc)

	var cost float64
	if err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cost), 0) FROM llm_usage
		WHERE timestamp >= $1 AND timestamp < $2`,
		start, end,
	).Scan(&cost); err != nil {
		return 0, fmt.Errorf("daily llm cost: %w", err)
	}

	return cost, nil
}

// LLMCostSince sums the estimated cost after the given instant, for the
// weekly report.
func (db *DB) LLMCostSince(ctx context.Context, since time.Time) (float64, error) {
	var cost float64
	if err := db.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cost), 0) FROM llm_usage
		WHERE timestamp >= $1`, since,
	).Scan(&cost); err != nil {
		return 0, fmt.Errorf("llm cost since: %w", err)
	}

	return cost, nil
}

// LLMErrorsSince counts failed attempts after the given instant, for the
// health endpoint.
func (db *DB) LLMErrorsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	if err := db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM llm_usage
		WHERE timestamp >= $1 AND error_type IS NOT NULL`, since,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("llm errors since: %w", err)
	}

	return count, nil
}

// DeleteOldLLMUsage trims the ledger. Returns deleted row count.
func (db *DB) DeleteOldLLMUsage(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx,
		`DELETE FROM llm_usage WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old llm usage: %w", err)
	}

	return tag.RowsAffected(), nil
}
