package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// ErrDuplicateURL is returned when an item with the same normalized URL is
// already persisted.
var ErrDuplicateURL = errors.New("normalized url already exists")

// SimhashEntry is one cached fingerprint row for the dedup cache.
type SimhashEntry struct {
	NewsID  int64
	Simhash uint64
}

// InsertNews persists a new item and returns its id. The normalized URL is
// unique; a conflict yields ErrDuplicateURL.
func (db *DB) InsertNews(ctx context.Context, item *domain.NewsItem) (int64, error) {
	const q = `
		INSERT INTO news (title, text, source, url, url_normalized, published_at,
			collected_at, region, filter1_score, simhash, canonical_news_id, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (url_normalized) DO NOTHING
		RETURNING id`

	var id int64
	err := db.Pool.QueryRow(ctx, q,
		sanitizeUTF8(item.Title),
		sanitizeUTF8(item.Text),
		item.Source,
		item.URL,
		item.URLNormalized,
		toTimestamptzPtr(item.PublishedAt),
		item.CollectedAt,
		toText(item.Region),
		item.Filter1Score,
		simhashHex(item.Simhash),
		toInt8Ptr(item.CanonicalID),
		string(item.Status),
	).Scan(&id)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrDuplicateURL
	}
	if err != nil {
		return 0, fmt.Errorf("insert news: %w", err)
	}

	return id, nil
}

// NewsExistsByURL reports whether the normalized URL is already stored.
func (db *DB) NewsExistsByURL(ctx context.Context, urlNormalized string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM news WHERE url_normalized = $1)`, urlNormalized,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("news exists by url: %w", err)
	}

	return exists, nil
}

// SetNewsStatus moves an item to a new lifecycle status.
func (db *DB) SetNewsStatus(ctx context.Context, id int64, status domain.Status) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE news SET status = $2 WHERE id = $1`, id, string(status)); err != nil {
		return fmt.Errorf("set news status: %w", err)
	}

	return nil
}

// SetNewsRegion stores the detected region.
func (db *DB) SetNewsRegion(ctx context.Context, id int64, region string) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE news SET region = $2 WHERE id = $1`, id, toText(region)); err != nil {
		return fmt.Errorf("set news region: %w", err)
	}

	return nil
}

// SetNewsFilter1Score stores the keyword score.
func (db *DB) SetNewsFilter1Score(ctx context.Context, id int64, score int) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE news SET filter1_score = $2 WHERE id = $1`, id, score); err != nil {
		return fmt.Errorf("set news filter1 score: %w", err)
	}

	return nil
}

// SetNewsLLMResult stores the serialized verdict, the raw model output and
// the resulting status in one statement.
func (db *DB) SetNewsLLMResult(ctx context.Context, id int64, llmJSON, raw string, status domain.Status) error {
	if _, err := db.Pool.Exec(ctx,
		`UPDATE news SET llm_json = $2, llm_raw_response = $3, status = $4 WHERE id = $1`,
		id, toText(llmJSON), toText(raw), string(status)); err != nil {
		return fmt.Errorf("set news llm result: %w", err)
	}

	return nil
}

// RecentSimhashes loads the fingerprints of items collected since the given
// instant, oldest first, for the per-cycle dedup cache.
func (db *DB) RecentSimhashes(ctx context.Context, since time.Time) ([]SimhashEntry, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, simhash FROM news
		WHERE collected_at >= $1 AND simhash IS NOT NULL AND status <> 'duplicate'
		ORDER BY collected_at`, since)
	if err != nil {
		return nil, fmt.Errorf("recent simhashes: %w", err)
	}
	defer rows.Close()

	var entries []SimhashEntry

	for rows.Next() {
		var (
			entry SimhashEntry
			hex   string
		)

		if err := rows.Scan(&entry.NewsID, &hex); err != nil {
			return nil, fmt.Errorf("scan simhash row: %w", err)
		}

		hash, err := strconv.ParseUint(hex, 16, 64)
		if err != nil {
			continue
		}

		entry.Simhash = hash
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// GetNews loads one item by id.
func (db *DB) GetNews(ctx context.Context, id int64) (*domain.NewsItem, error) {
	const q = `
		SELECT id, title, text, source, url, url_normalized, published_at,
			collected_at, region, filter1_score, simhash, canonical_news_id,
			status, llm_json, llm_raw_response, created_at
		FROM news WHERE id = $1`

	var (
		item      domain.NewsItem
		published = toTimestamptzPtr(nil)
		region    = toText("")
		llm       = toText("")
		raw       = toText("")
		simhash   = toText("")
		canonical = toInt8Ptr(nil)
		status    string
	)

	err := db.Pool.QueryRow(ctx, q, id).Scan(
		&item.ID, &item.Title, &item.Text, &item.Source, &item.URL,
		&item.URLNormalized, &published, &item.CollectedAt, &region,
		&item.Filter1Score, &simhash, &canonical, &status, &llm, &raw,
		&item.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get news: %w", err)
	}

	item.PublishedAt = fromTimestamptzPtr(published)
	item.Region = fromText(region)
	item.CanonicalID = fromInt8Ptr(canonical)
	item.Status = domain.Status(status)
	item.LLMJSON = fromText(llm)
	item.LLMRawResponse = fromText(raw)

	if h := fromText(simhash); h != "" {
		if v, perr := strconv.ParseUint(h, 16, 64); perr == nil {
			item.Simhash = v
		}
	}

	return &item, nil
}

// CountNewsByStatus aggregates item counts per status since the given time,
// for /stats and the weekly report.
func (db *DB) CountNewsByStatus(ctx context.Context, since time.Time) (map[domain.Status]int, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT status, COUNT(*) FROM news
		WHERE collected_at >= $1
		GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("count news by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Status]int)

	for rows.Next() {
		var (
			status string
			n      int
		)

		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}

		counts[domain.Status(status)] = n
	}

	return counts, rows.Err()
}

// DeleteOldNews removes items older than cutoff whose status never became a
// signal. Returns the number of deleted rows.
func (db *DB) DeleteOldNews(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := db.Pool.Exec(ctx, `
		DELETE FROM news
		WHERE collected_at < $1 AND status <> 'sent'`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old news: %w", err)
	}

	return tag.RowsAffected(), nil
}

func simhashHex(h uint64) *string {
	if h == 0 {
		return nil
	}

	s := strconv.FormatUint(h, 16)

	return &s
}
