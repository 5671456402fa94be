// Package fetch collects raw news items from configured sources: RSS
// feeds, Google News search feeds, and official sites without feeds.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

const acceptLanguage = "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
	"SignalBot/1.0 (News Aggregator)",
}

// HealthStore records per-source fetch outcomes and answers which sources
// are currently disabled.
type HealthStore interface {
	RecordSourceSuccess(ctx context.Context, sourceID string) error
	RecordSourceFailure(ctx context.Context, sourceID string, statusCode int, message string) (bool, error)
	DisabledSourceIDs(ctx context.Context) (map[string]bool, error)
}

type httpError struct {
	status int
}

func (e *httpError) Error() string { return fmt.Sprintf("http status %d", e.status) }

// Fetcher runs all enabled sources concurrently with a bounded group and
// per-request retries.
type Fetcher struct {
	client        *http.Client
	parser        *gofeed.Parser
	health        HealthStore
	logger        zerolog.Logger
	retries       int
	maxConcurrent int

	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.HTTP, health HealthStore, logger zerolog.Logger) *Fetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}

	return &Fetcher{
		client:        &http.Client{Timeout: timeout},
		parser:        gofeed.NewParser(),
		health:        health,
		logger:        logger,
		retries:       cfg.Retries,
		maxConcurrent: maxConcurrent,
		sleep:         sleepCtx,
	}
}

// FetchAll fans out over the sources, skipping disabled ones, and returns
// the flattened raw items. Per-source failures are recorded in source
// health and never fail the whole cycle.
func (f *Fetcher) FetchAll(ctx context.Context, sources []config.Source) []domain.RawItem {
	disabled, err := f.health.DisabledSourceIDs(ctx)
	if err != nil {
		f.logger.Warn().Err(err).Msg("disabled source list unavailable")
		disabled = map[string]bool{}
	}

	var (
		mu    sync.Mutex
		items []domain.RawItem
	)

	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrent)

	for _, src := range sources {
		if disabled[src.ID] {
			f.logger.Debug().Str("source", src.ID).Msg("source disabled, skipping")

			continue
		}

		g.Go(func() error {
			got, err := f.fetchSource(gctx, src)
			if err != nil {
				f.recordFailure(gctx, src, err)

				return nil
			}

			if err := f.health.RecordSourceSuccess(gctx, src.ID); err != nil {
				f.logger.Warn().Err(err).Str("source", src.ID).Msg("failed to record source success")
			}

			f.logger.Info().
				Str("source", src.ID).
				Int("items", len(got)).
				Msg("source fetched")

			mu.Lock()
			items = append(items, got...)
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	f.logger.Info().
		Int("sources", len(sources)).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("fetch complete")

	return items
}

func (f *Fetcher) fetchSource(ctx context.Context, src config.Source) ([]domain.RawItem, error) {
	switch src.Type {
	case config.SourceWeb:
		return f.fetchListing(ctx, src)
	case config.SourceSearchFeed:
		feedSrc := src
		feedSrc.URL = googleNewsURL(src)

		return f.fetchFeed(ctx, feedSrc)
	default:
		return f.fetchFeed(ctx, src)
	}
}

func (f *Fetcher) recordFailure(ctx context.Context, src config.Source, err error) {
	status := 0

	var httpErr *httpError
	if errors.As(err, &httpErr) {
		status = httpErr.status
	}

	disabledNow, rerr := f.health.RecordSourceFailure(ctx, src.ID, status, err.Error())
	if rerr != nil {
		f.logger.Warn().Err(rerr).Str("source", src.ID).Msg("failed to record source failure")

		return
	}

	evt := f.logger.Warn()
	if disabledNow {
		evt = f.logger.Error().Bool("auto_disabled", true)
	}

	evt.Err(err).Str("source", src.ID).Msg("source fetch failed")
}

// get runs one request with retries and exponential backoff. The caller
// owns the response body.
func (f *Fetcher) get(ctx context.Context, src config.Source, url, accept string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			if err := f.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("User-Agent", userAgentFor(src.ID))
		req.Header.Set("Accept-Language", acceptLanguage)
		req.Header.Set("Accept", accept)

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("fetch %s: %w", src.ID, err)

			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = &httpError{status: resp.StatusCode}

			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// userAgentFor rotates the agent list deterministically per source.
func userAgentFor(sourceID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sourceID))

	return userAgents[int(h.Sum32())%len(userAgents)]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
