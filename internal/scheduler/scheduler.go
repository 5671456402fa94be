// Package scheduler drives the periodic jobs: the news cycle, source
// auto-heal, data retention and the weekly report.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/platform/worker"
)

const (
	healInterval    = 30 * time.Minute
	sourceCooldown  = 60 * time.Minute
	housekeepingTic = time.Minute

	retentionHour    = 3
	reportDay        = time.Monday
	reportHour       = 9
	newsRetention    = 30 * 24 * time.Hour
	ledgerRetention  = 30 * 24 * time.Hour
	watchRetention   = 30 * 24 * time.Hour
	pendingRetention = 30 * 24 * time.Hour
	incidentRetain   = 60 * 24 * time.Hour
)

// CycleRunner runs one news cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// MaintenanceStore covers retention deletes and source auto-heal.
type MaintenanceStore interface {
	ReEnableCooledSource(ctx context.Context, cooldown time.Duration) (string, error)
	DeleteOldNews(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldLLMUsage(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldWatchlist(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldPendingSignals(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOldIncidents(ctx context.Context, cutoff time.Time) (int64, error)
}

// Reporter builds the weekly summary text.
type Reporter interface {
	WeeklyReport(ctx context.Context) (string, error)
}

// Notifier delivers the weekly report to the admin chat.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

type Scheduler struct {
	cycles      CycleRunner
	store       MaintenanceStore
	reporter    Reporter
	notifier    Notifier
	runtime     *config.Runtime
	loc         *time.Location
	adminChatID int64
	logger      zerolog.Logger

	lastRetention time.Time
	lastReport    time.Time

	now func() time.Time
}

func New(
	cycles CycleRunner,
	store MaintenanceStore,
	reporter Reporter,
	notifier Notifier,
	runtime *config.Runtime,
	loc *time.Location,
	adminChatID int64,
	logger zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cycles:      cycles,
		store:       store,
		reporter:    reporter,
		notifier:    notifier,
		runtime:     runtime,
		loc:         loc,
		adminChatID: adminChatID,
		logger:      logger,
		now:         time.Now,
	}
}

// Run blocks until the context is cancelled. The cycle interval is read once
// at startup; changing it takes effect on restart.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.runtime.Current().Schedule.CheckIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	return worker.Loop(ctx, worker.Config{
		Name: "scheduler",
		Tasks: []worker.Task{
			{Name: "news_cycle", Interval: interval, RunOnStart: true, Run: s.runCycle},
			{Name: "source_heal", Interval: healInterval, Run: s.healSources},
			{Name: "housekeeping", Interval: housekeepingTic, Run: s.housekeeping},
		},
		Logger: &s.logger,
	})
}

func (s *Scheduler) runCycle(ctx context.Context) {
	defer worker.RecoverPanic(&s.logger, "news cycle")

	if err := s.cycles.RunCycle(ctx); err != nil {
		s.logger.Error().Err(err).Msg("news cycle failed")
	}
}

// healSources re-enables every source whose cooldown has passed, one row at
// a time.
func (s *Scheduler) healSources(ctx context.Context) {
	defer worker.RecoverPanic(&s.logger, "source heal")

	for {
		id, err := s.store.ReEnableCooledSource(ctx, sourceCooldown)
		if err != nil {
			s.logger.Error().Err(err).Msg("source heal failed")

			return
		}

		if id == "" {
			return
		}

		s.logger.Info().Str("source", id).Msg("source re-enabled")
	}
}

// housekeeping fires the clock-based jobs: retention at 03:00 local, the
// weekly report Monday 09:00 local.
func (s *Scheduler) housekeeping(ctx context.Context) {
	now := s.now().In(s.loc)

	if worker.ShouldRunDaily(now, retentionHour, s.lastRetention) {
		s.lastRetention = now
		s.runRetention(ctx)
	}

	if worker.ShouldRunWeekly(now, reportDay, reportHour, s.lastReport) {
		s.lastReport = now
		s.sendWeeklyReport(ctx)
	}
}

func (s *Scheduler) runRetention(ctx context.Context) {
	defer worker.RecoverPanic(&s.logger, "retention")

	now := s.now().UTC()

	jobs := []struct {
		name   string
		cutoff time.Time
		run    func(context.Context, time.Time) (int64, error)
	}{
		{"news", now.Add(-newsRetention), s.store.DeleteOldNews},
		{"llm_usage", now.Add(-ledgerRetention), s.store.DeleteOldLLMUsage},
		{"watchlist", now.Add(-watchRetention), s.store.DeleteOldWatchlist},
		{"pending_signals", now.Add(-pendingRetention), s.store.DeleteOldPendingSignals},
		{"incidents", now.Add(-incidentRetain), s.store.DeleteOldIncidents},
	}

	for _, job := range jobs {
		deleted, err := job.run(ctx, job.cutoff)
		if err != nil {
			s.logger.Error().Err(err).Str("table", job.name).Msg("retention failed")

			continue
		}

		if deleted > 0 {
			s.logger.Info().Str("table", job.name).Int64("deleted", deleted).Msg("retention done")
		}
	}
}

func (s *Scheduler) sendWeeklyReport(ctx context.Context) {
	defer worker.RecoverPanic(&s.logger, "weekly report")

	if s.adminChatID == 0 {
		return
	}

	report, err := s.reporter.WeeklyReport(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("weekly report failed")

		return
	}

	if err := s.notifier.Notify(ctx, s.adminChatID, report); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver weekly report")
	}
}
