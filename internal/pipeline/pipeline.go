// Package pipeline runs one news cycle end to end: fetch, normalize,
// dedup, filter funnel, classification, decision, signal delivery.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/decision"
	"github.com/infrawatch/signal-bot/internal/dedup"
	"github.com/infrawatch/signal-bot/internal/domain"
	"github.com/infrawatch/signal-bot/internal/filter"
	"github.com/infrawatch/signal-bot/internal/llm"
	"github.com/infrawatch/signal-bot/internal/normalize"
	"github.com/infrawatch/signal-bot/internal/storage"
)

const (
	lockName = "processing"
	lockTTL  = 10 * time.Minute

	// LLM input is bounded by sentence extraction, not summarization.
	llmInputSentences = 6
	llmInputMaxChars  = 1500
)

// Store is the pipeline's view of persistence.
type Store interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration, holderID string) (bool, error)
	ReleaseLock(ctx context.Context, name string) error

	InsertNews(ctx context.Context, item *domain.NewsItem) (int64, error)
	SetNewsStatus(ctx context.Context, id int64, status domain.Status) error
	SetNewsRegion(ctx context.Context, id int64, region string) error
	SetNewsFilter1Score(ctx context.Context, id int64, score int) error
	SetNewsLLMResult(ctx context.Context, id int64, llmJSON, raw string, status domain.Status) error
	RecentSimhashes(ctx context.Context, since time.Time) ([]storage.SimhashEntry, error)

	CountSignalsToday(ctx context.Context, loc *time.Location) (int, error)
	TryCreateSignalIfUnderLimit(ctx context.Context, sig *domain.Signal, maxPerDay int, loc *time.Location) (*domain.Signal, error)
	FindSimilarRecentSignal(ctx context.Context, eventType, region, objectType string, window time.Duration) (*domain.Signal, error)
	UpdateSignalRecipients(ctx context.Context, id int64, count int) error

	InsertPendingSignal(ctx context.Context, p *domain.PendingSignal) (int64, error)
	MarkPendingSignal(ctx context.Context, id int64, status string) error
	AddToWatchlist(ctx context.Context, newsID int64, reason string, score float64) error

	FindOpenIncident(ctx context.Context, region, eventType string, window time.Duration) (*domain.Incident, error)
	TouchIncident(ctx context.Context, id int64) error
	CreateIncident(ctx context.Context, inc *domain.Incident) (int64, error)
}

// Fetcher produces the raw items of one cycle.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []config.Source) []domain.RawItem
}

// Broadcaster delivers one approved signal.
type Broadcaster interface {
	SendSignal(ctx context.Context, signalID int64, text string) (sent, failed int, err error)
}

// Pipeline owns one cycle at a time, guarded by the processing lock.
type Pipeline struct {
	store       Store
	fetcher     Fetcher
	llm         llm.Client
	broadcaster Broadcaster
	runtime     *config.Runtime
	regions     *filter.RegionDetector
	loc         *time.Location
	holderID    string
	logger      zerolog.Logger

	now func() time.Time
}

func New(
	store Store,
	fetcher Fetcher,
	llmClient llm.Client,
	broadcaster Broadcaster,
	runtime *config.Runtime,
	loc *time.Location,
	logger zerolog.Logger,
) *Pipeline {
	return &Pipeline{
		store:       store,
		fetcher:     fetcher,
		llm:         llmClient,
		broadcaster: broadcaster,
		runtime:     runtime,
		regions:     filter.NewRegionDetector(nil),
		loc:         loc,
		holderID:    uuid.NewString(),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// candidate is one LLM-approved item awaiting ranked promotion.
type candidate struct {
	pendingID int64
	newsID    int64
	verdict   *domain.Verdict
	region    string
	title     string
	url       string
	priority  float64
}

// RunCycle executes one full cycle. A held lock means another instance is
// already processing; that is not an error.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	acquired, err := p.store.AcquireLock(ctx, lockName, lockTTL, p.holderID)
	if err != nil {
		return fmt.Errorf("acquire processing lock: %w", err)
	}

	if !acquired {
		p.logger.Info().Str("reason", "lock_held").Msg("cycle skipped")

		return nil
	}

	defer func() {
		if rerr := p.store.ReleaseLock(ctx, lockName); rerr != nil {
			p.logger.Warn().Err(rerr).Msg("failed to release processing lock")
		}
	}()

	start := p.now()

	cfg, err := p.runtime.Reload(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Msg("config reload failed, using last snapshot")
		cfg = p.runtime.Current()
	}

	p.llm.BeginCycle()
	cyclesTotal.Inc()

	items := p.fetcher.FetchAll(ctx, cfg.Sources)

	if max := cfg.Limits.MaxItemsPerCycle; max > 0 && len(items) > max {
		p.logger.Warn().
			Int("dropped", len(items)-max).
			Int("cap", max).
			Msg("cycle backpressure, dropping excess items")
		items = items[:max]
	}

	cache, err := p.loadSimhashCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load simhash cache: %w", err)
	}

	counts := map[string]int{}

	var candidates []candidate

	for _, raw := range items {
		code := p.processItem(ctx, cfg, cache, raw, &candidates)
		counts[code]++
		itemsTotal.WithLabelValues(code).Inc()
	}

	p.promote(ctx, cfg, candidates, counts)

	ev := p.logger.Info().
		Int("items", len(items)).
		Int("candidates", len(candidates)).
		Dur("duration", p.now().Sub(start))

	for code, n := range counts {
		ev = ev.Int(code, n)
	}

	ev.Msg("cycle complete")

	return nil
}

func (p *Pipeline) loadSimhashCache(ctx context.Context, cfg *config.App) (*dedup.Cache, error) {
	hours := cfg.Limits.SimhashCacheHours
	if hours <= 0 {
		hours = 72
	}

	entries, err := p.store.RecentSimhashes(ctx, p.now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		return nil, err
	}

	cached := make([]dedup.Entry, 0, len(entries))
	for _, e := range entries {
		cached = append(cached, dedup.Entry{NewsID: e.NewsID, Simhash: e.Simhash})
	}

	return dedup.NewCache(cached, cfg.Dedup.SimhashThreshold), nil
}

// processItem walks one raw item through the funnel and returns its decision
// code. A panic inside the funnel marks the item failed and never aborts the
// cycle.
func (p *Pipeline) processItem(
	ctx context.Context,
	cfg *config.App,
	cache *dedup.Cache,
	raw domain.RawItem,
	candidates *[]candidate,
) (code string) {
	traceID := uuid.NewString()
	logger := p.logger.With().Str("trace_id", traceID).Str("source", raw.SourceID).Logger()

	var newsID int64

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("item processing panicked")

			if newsID != 0 {
				if err := p.store.SetNewsStatus(ctx, newsID, domain.StatusLLMFailed); err != nil {
					logger.Error().Err(err).Msg("failed to mark panicked item")
				}
			}

			code = domain.CodeLLMFailed
		}
	}()

	title := normalize.CleanHTML(raw.Title)
	text := normalize.CleanHTML(raw.RawHTML)
	urlNormalized := normalize.URL(raw.URL, cfg.Dedup.URLParamsToRemove)
	collectedAt := p.now()

	item := &domain.NewsItem{
		Title:         title,
		Text:          text,
		Source:        raw.SourceID,
		URL:           raw.URL,
		URLNormalized: urlNormalized,
		PublishedAt:   raw.PublishedAt,
		CollectedAt:   collectedAt,
		Simhash:       dedup.Simhash(title, text),
		Status:        domain.StatusRaw,
	}

	fresh := filter.CheckFreshness(raw.PublishedAt, collectedAt, filter.FreshnessConfig{
		MaxAgeDays:            cfg.Freshness.MaxAgeDays,
		AllowMissingPublished: cfg.Freshness.AllowMissingPublishedAt,
		FallbackToCollected:   cfg.Freshness.FallbackToCollectedAt,
	}, collectedAt)
	if !fresh.Passed {
		item.Status = domain.StatusFilteredOld

		return p.persist(ctx, logger, item, &newsID, fresh.Code)
	}

	if canonicalID, found := cache.FindNear(item.Simhash); found {
		item.Status = domain.StatusDuplicate
		item.CanonicalID = &canonicalID

		return p.persist(ctx, logger, item, &newsID, domain.CodeDuplicateSimhash)
	}

	id, err := p.store.InsertNews(ctx, item)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			logger.Debug().Str("url", urlNormalized).Msg("duplicate url")

			return domain.CodeDuplicateURL
		}

		logger.Error().Err(err).Msg("failed to persist item")

		return domain.CodeLLMFailed
	}

	newsID = id

	cache.Add(id, item.Simhash)

	resolved := filter.CheckResolved(title, text, filter.ResolvedConfig{
		Enabled:             cfg.ResolvedFilter.Enabled,
		HardResolvedPhrases: cfg.ResolvedFilter.HardResolvedPhrases,
		SoftResolvedWords:   cfg.ResolvedFilter.SoftResolvedWords,
		OngoingWords:        cfg.ResolvedFilter.OngoingWords,
	})
	if !resolved.Passed {
		return p.finish(ctx, logger, newsID, domain.StatusFilteredResolved, resolved.Code)
	}

	noise := filter.CheckNoise(title, text, filter.NoiseConfig{
		Enabled:            cfg.NoiseFilter.Enabled,
		HardNegativeTopics: cfg.NoiseFilter.HardNegativeTopics,
		DomesticNoise:      cfg.NoiseFilter.DomesticNoise,
		InfraExceptions:    cfg.NoiseFilter.ExceptionInfraPhrases,
	})
	if !noise.Passed {
		return p.finish(ctx, logger, newsID, domain.StatusFilteredNoise, noise.Code)
	}

	keywordFilter := filter.NewKeywordFilter(
		filter.Keywords{Positive: cfg.Keywords.Positive, Negative: cfg.Keywords.Negative},
		filter.Weights{Categories: cfg.KeywordWeights(), Negative: cfg.Weights.Negative},
		cfg.Thresholds.Filter1ToLLM,
	)

	passed, score, filterCode := keywordFilter.ShouldSendToLLM(title, text, filter.ComboRule{
		Required:         cfg.Filter1Gate.RequireComboToLLM,
		EventCategories:  cfg.Filter1Gate.EventCategoriesRequired,
		ObjectCategories: cfg.Filter1Gate.ObjectCategoriesRequired,
		StrongOverride:   cfg.Filter1Gate.StrongOverrideEnabled,
		StrongPhrases:    cfg.Filter1Gate.StrongOverridePhrases,
	})

	if err := p.store.SetNewsFilter1Score(ctx, newsID, score.Score); err != nil {
		logger.Warn().Err(err).Msg("failed to store filter1 score")
	}

	region := p.regions.Detect(title, text, raw.RegionHint)
	if region != "" {
		if err := p.store.SetNewsRegion(ctx, newsID, region); err != nil {
			logger.Warn().Err(err).Msg("failed to store region")
		}
	}

	if !passed {
		return p.finish(ctx, logger, newsID, domain.StatusFiltered, filterCode)
	}

	return p.classify(ctx, cfg, logger, newsID, title, text, region, raw, traceID, candidates)
}

// llmSkipCodes are the guardrail stops that park an item as llm_skipped
// instead of llm_failed: the item never reached the model.
var llmSkipCodes = map[string]bool{
	domain.CodeBudgetExceeded:  true,
	domain.CodeCircuitOpen:     true,
	domain.CodeThrottled:       true,
	domain.CodeLLMBillingLimit: true,
	domain.CodeLLMRateLimit:    true,
}

func (p *Pipeline) classify(
	ctx context.Context,
	cfg *config.App,
	logger zerolog.Logger,
	newsID int64,
	title, text, region string,
	raw domain.RawItem,
	traceID string,
	candidates *[]candidate,
) string {
	res := p.llm.Analyze(ctx, llm.Input{
		Title:   title,
		Text:    normalize.ExtractSentences(text, llmInputSentences, llmInputMaxChars),
		Source:  raw.SourceName,
		Region:  region,
		TraceID: traceID,
	})

	if res.Verdict == nil {
		status := domain.StatusLLMFailed
		if llmSkipCodes[res.Code] {
			status = domain.StatusLLMSkipped
		}

		if err := p.store.SetNewsLLMResult(ctx, newsID, "", res.Raw, status); err != nil {
			logger.Error().Err(err).Msg("failed to store llm failure")
		}

		logger.Info().Str("code", res.Code).Str("status", string(status)).Msg("item rejected")

		return res.Code
	}

	verdictJSON, _ := json.Marshal(res.Verdict)

	today, err := p.store.CountSignalsToday(ctx, p.loc)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to count today's signals")
	}

	thresholds := decision.Thresholds{
		Relevance:        cfg.Thresholds.LLMRelevance,
		Urgency:          cfg.Thresholds.LLMUrgency,
		MaxSignalsPerDay: cfg.Limits.MaxSignalsPerDay,
	}

	out := decision.Decide(decision.Input{
		Filter1Passed: true,
		Verdict:       res.Verdict,
		SignalsToday:  today,
	}, thresholds)

	if out.Code == domain.CodeLowRelevance &&
		res.Verdict.Relevance >= thresholds.Relevance-0.1 {
		if err := p.store.AddToWatchlist(ctx, newsID, out.Code, res.Verdict.Relevance); err != nil {
			logger.Warn().Err(err).Msg("failed to add watchlist entry")
		}
	}

	if !out.Approved {
		if err := p.store.SetNewsLLMResult(ctx, newsID, string(verdictJSON), res.Raw, out.Status); err != nil {
			logger.Error().Err(err).Msg("failed to store llm result")
		}

		logger.Info().Str("code", out.Code).Str("status", string(out.Status)).Msg("item rejected")

		return out.Code
	}

	if err := p.store.SetNewsLLMResult(ctx, newsID, string(verdictJSON), res.Raw, domain.StatusLLMPassed); err != nil {
		logger.Error().Err(err).Msg("failed to store llm result")
	}

	msg := decision.FormatSignalMessage(res.Verdict, region, title, raw.URL)

	pendingID, err := p.store.InsertPendingSignal(ctx, &domain.PendingSignal{
		NewsID:        newsID,
		PriorityScore: res.Verdict.Relevance * float64(res.Verdict.Urgency),
		Relevance:     res.Verdict.Relevance,
		Urgency:       res.Verdict.Urgency,
		EventType:     res.Verdict.EventType,
		ObjectType:    res.Verdict.Object,
		MessageText:   msg,
		Region:        region,
		Why:           res.Verdict.Why,
		CycleDate:     p.now().In(p.loc).Format("2006-01-02"),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to queue pending signal")
	}

	*candidates = append(*candidates, candidate{
		pendingID: pendingID,
		newsID:    newsID,
		verdict:   res.Verdict,
		region:    region,
		title:     title,
		url:       raw.URL,
		priority:  res.Verdict.Relevance * float64(res.Verdict.Urgency),
	})

	logger.Info().Float64("priority", res.Verdict.Relevance*float64(res.Verdict.Urgency)).Msg("item approved")

	return domain.CodeApproved
}

// promote ranks the cycle's approved candidates and turns the best into
// signals within the daily budget. The rest are suppressed.
func (p *Pipeline) promote(ctx context.Context, cfg *config.App, candidates []candidate, counts map[string]int) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})

	window := time.Duration(cfg.Limits.SimilarWindowHrs) * time.Hour
	if window <= 0 {
		window = 24 * time.Hour
	}

	for _, cand := range candidates {
		code := p.promoteOne(ctx, cfg, cand, window)
		counts[code]++
		itemsTotal.WithLabelValues(code).Inc()
	}
}

func (p *Pipeline) promoteOne(ctx context.Context, cfg *config.App, cand candidate, window time.Duration) string {
	logger := p.logger.With().Int64("news_id", cand.newsID).Logger()
	v := cand.verdict

	similar, err := p.store.FindSimilarRecentSignal(ctx, v.EventType, cand.region, v.Object, window)
	if err != nil {
		logger.Error().Err(err).Msg("similarity lookup failed")
	}

	if similar != nil {
		p.suppress(ctx, logger, cand, domain.StatusSuppressedSimilar)

		// The cluster still gains a corroborating report.
		if inc, ierr := p.store.FindOpenIncident(ctx, cand.region, v.EventType, window); ierr == nil && inc != nil {
			if terr := p.store.TouchIncident(ctx, inc.ID); terr != nil {
				logger.Warn().Err(terr).Msg("failed to touch incident")
			}
		}

		return domain.CodeSuppressedSimilar
	}

	msg := decision.FormatSignalMessage(v, cand.region, cand.title, cand.url)

	created, err := p.store.TryCreateSignalIfUnderLimit(ctx, &domain.Signal{
		NewsID:      cand.newsID,
		EventType:   v.EventType,
		Urgency:     v.Urgency,
		ObjectType:  v.Object,
		Sphere:      domain.Sphere(v.Object),
		Region:      cand.region,
		Why:         v.Why,
		MessageText: msg,
	}, cfg.Limits.MaxSignalsPerDay, p.loc)
	if err != nil {
		logger.Error().Err(err).Msg("signal insert failed")
		p.suppress(ctx, logger, cand, domain.StatusSuppressedLimit)

		return domain.CodeSuppressedLimit
	}

	if created == nil {
		p.suppress(ctx, logger, cand, domain.StatusSuppressedLimit)

		return domain.CodeSuppressedLimit
	}

	if err := p.store.SetNewsStatus(ctx, cand.newsID, domain.StatusSent); err != nil {
		logger.Error().Err(err).Msg("failed to mark item sent")
	}

	p.recordIncident(ctx, logger, cand, window)

	sent, failed, err := p.broadcaster.SendSignal(ctx, created.ID, msg)
	if err != nil {
		logger.Error().Err(err).Msg("broadcast failed")
	}

	if err := p.store.UpdateSignalRecipients(ctx, created.ID, sent); err != nil {
		logger.Warn().Err(err).Msg("failed to update recipient count")
	}

	if cand.pendingID != 0 {
		if err := p.store.MarkPendingSignal(ctx, cand.pendingID, "sent"); err != nil {
			logger.Warn().Err(err).Msg("failed to finalize pending signal")
		}
	}

	signalsTotal.Inc()

	logger.Info().
		Int64("signal_id", created.ID).
		Int("recipients", sent).
		Int("failed", failed).
		Msg("signal sent")

	return domain.CodeApproved
}

func (p *Pipeline) suppress(ctx context.Context, logger zerolog.Logger, cand candidate, status domain.Status) {
	if err := p.store.SetNewsStatus(ctx, cand.newsID, status); err != nil {
		logger.Error().Err(err).Msg("failed to mark suppressed item")
	}

	if cand.pendingID != 0 {
		if err := p.store.MarkPendingSignal(ctx, cand.pendingID, "skipped"); err != nil {
			logger.Warn().Err(err).Msg("failed to finalize pending signal")
		}
	}

	logger.Info().Str("status", string(status)).Msg("signal suppressed")
}

func (p *Pipeline) recordIncident(ctx context.Context, logger zerolog.Logger, cand candidate, window time.Duration) {
	v := cand.verdict

	inc, err := p.store.FindOpenIncident(ctx, cand.region, v.EventType, window)
	if err != nil {
		logger.Error().Err(err).Msg("incident lookup failed")

		return
	}

	if inc != nil {
		if err := p.store.TouchIncident(ctx, inc.ID); err != nil {
			logger.Warn().Err(err).Msg("failed to touch incident")
		}

		return
	}

	if _, err := p.store.CreateIncident(ctx, &domain.Incident{
		Title:      cand.title,
		Region:     cand.region,
		ObjectType: v.Object,
		EventType:  v.EventType,
	}); err != nil {
		logger.Error().Err(err).Msg("failed to create incident")
	}
}

// persist writes an item that already carries its terminal status, such as
// stale or duplicate items.
func (p *Pipeline) persist(ctx context.Context, logger zerolog.Logger, item *domain.NewsItem, newsID *int64, code string) string {
	id, err := p.store.InsertNews(ctx, item)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			return domain.CodeDuplicateURL
		}

		logger.Error().Err(err).Msg("failed to persist item")

		return domain.CodeLLMFailed
	}

	*newsID = id

	logger.Info().Str("code", code).Str("status", string(item.Status)).Msg("item rejected")

	return code
}

// finish moves a persisted item to a terminal status.
func (p *Pipeline) finish(ctx context.Context, logger zerolog.Logger, id int64, status domain.Status, code string) string {
	if err := p.store.SetNewsStatus(ctx, id, status); err != nil {
		logger.Error().Err(err).Msg("failed to set item status")
	}

	logger.Info().Str("code", code).Str("status", string(status)).Msg("item rejected")

	return code
}
