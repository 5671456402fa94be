package bot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	_, created, err := b.store.Subscribe(ctx, chatID)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to subscribe")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	ui := b.runtime.Current().UI

	text := ui.WelcomeExisting
	if created {
		text = ui.WelcomeNew
	}

	if b.isAdmin(chatID) {
		text += ui.AdminSuffix
	}

	b.reply(chatID, text)
}

func (b *Bot) handleStop(ctx context.Context, chatID int64) {
	if err := b.store.Unsubscribe(ctx, chatID); err != nil {
		b.logger.Error().Err(err).Msg("failed to unsubscribe")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	b.reply(chatID, b.runtime.Current().UI.Stop)
}

func (b *Bot) handleStats(ctx context.Context, chatID int64) {
	since := time.Now().UTC().Add(-24 * time.Hour)

	counts, err := b.store.CountNewsByStatus(ctx, since)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to count news")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	var collected, filtered int

	for status, n := range counts {
		collected += n

		switch status {
		case domain.StatusFiltered, domain.StatusFilteredOld,
			domain.StatusFilteredResolved, domain.StatusFilteredNoise,
			domain.StatusDuplicate:
			filtered += n
		}
	}

	today, err := b.store.CountSignalsToday(ctx, b.loc)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to count signals")
	}

	subs, err := b.store.ActiveSubscribers(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to list subscribers")
	}

	limit := b.runtime.Current().Limits.MaxSignalsPerDay

	b.reply(chatID, fmt.Sprintf(
		"📊 Статистика за 24 часа\nСобрано: %d\nОтфильтровано: %d\nОтправлено: %d\nСигналов сегодня: %d/%d\nПодписчиков: %d",
		collected, filtered, counts[domain.StatusSent], today, limit, len(subs)))
}

func (b *Bot) handleHealth(ctx context.Context, chatID int64) {
	dbStatus := "OK"
	if err := b.store.Ping(ctx); err != nil {
		dbStatus = err.Error()
	}

	hourAgo := time.Now().UTC().Add(-time.Hour)

	llmErrors, err := b.store.LLMErrorsSince(ctx, hourAgo)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to count llm errors")
	}

	cost, err := b.store.DailyLLMCost(ctx, b.loc)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to read llm cost")
	}

	var disabled int

	if health, err := b.store.SourceHealthSnapshot(ctx); err != nil {
		b.logger.Error().Err(err).Msg("failed to read source health")
	} else {
		for _, h := range health {
			if h.IsDisabled {
				disabled++
			}
		}
	}

	subs, err := b.store.ActiveSubscribers(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to list subscribers")
	}

	b.reply(chatID, fmt.Sprintf(
		"🩺 Состояние\nБД: %s\nLLM breaker: %s\nОшибки LLM за час: %d\nРасход LLM сегодня: $%.4f\nОтключённых источников: %d\nПодписчиков: %d",
		dbStatus, b.breaker.BreakerState(), llmErrors, cost, disabled, len(subs)))
}

func (b *Bot) handleCycle(ctx context.Context, chatID int64) {
	if b.cycles == nil {
		b.reply(chatID, "Пайплайн в этом режиме не запущен.")

		return
	}

	b.reply(chatID, "Цикл запущен.")

	go func() {
		if err := b.cycles.RunCycle(context.WithoutCancel(ctx)); err != nil {
			b.logger.Error().Err(err).Msg("manual cycle failed")
			b.reply(chatID, "Цикл завершился с ошибкой: "+err.Error())
		}
	}()
}

func (b *Bot) handleConfigShow(ctx context.Context, chatID int64) {
	overrides, err := b.store.ConfigOverrides(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to read overrides")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	var sb strings.Builder

	sb.WriteString("⚙️ Переопределения:\n")

	if len(overrides) == 0 {
		sb.WriteString("нет\n")
	} else {
		keys := make([]string, 0, len(overrides))
		for k := range overrides {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		for _, k := range keys {
			fmt.Fprintf(&sb, "%s = %s\n", k, overrides[k])
		}
	}

	sb.WriteString("\nДоступные ключи:\n")
	sb.WriteString(strings.Join(config.OverridableKeys(), "\n"))

	b.reply(chatID, sb.String())
}

func (b *Bot) handleConfigSet(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(chatID, "Использование: /config_set <ключ> <значение>")

		return
	}

	key, value := fields[0], fields[1]

	if err := config.ValidateOverride(key, value); err != nil {
		b.reply(chatID, "Отклонено: "+err.Error())

		return
	}

	if err := b.store.SetConfigOverride(ctx, key, value, chatID); err != nil {
		b.logger.Error().Err(err).Str("key", key).Msg("failed to set override")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	if _, err := b.runtime.Reload(ctx); err != nil {
		b.logger.Error().Err(err).Msg("failed to reload config")
	}

	b.reply(chatID, fmt.Sprintf("✅ %s = %s", key, value))
}

func (b *Bot) handleConfigReset(ctx context.Context, chatID int64, args string) {
	key := strings.TrimSpace(args)
	if key == "" {
		b.reply(chatID, "Использование: /config_reset <ключ>")

		return
	}

	if err := b.store.ResetConfigOverride(ctx, key, chatID); err != nil {
		b.logger.Error().Err(err).Str("key", key).Msg("failed to reset override")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	if _, err := b.runtime.Reload(ctx); err != nil {
		b.logger.Error().Err(err).Msg("failed to reload config")
	}

	b.reply(chatID, fmt.Sprintf("✅ %s сброшен", key))
}

func (b *Bot) handleReportWeek(ctx context.Context, chatID int64) {
	report, err := b.WeeklyReport(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to build weekly report")
		b.reply(chatID, "Ошибка. Попробуйте позже.")

		return
	}

	b.reply(chatID, report)
}

// WeeklyReport aggregates the past seven days of signals. The scheduler
// sends the same text to the admin chat every Monday morning.
func (b *Bot) WeeklyReport(ctx context.Context) (string, error) {
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)

	signals, err := b.store.SignalsSince(ctx, since)
	if err != nil {
		return "", fmt.Errorf("list signals: %w", err)
	}

	cost, err := b.store.LLMCostSince(ctx, since)
	if err != nil {
		return "", fmt.Errorf("sum llm cost: %w", err)
	}

	byEvent := map[string]int{}
	byRegion := map[string]int{}

	for _, s := range signals {
		byEvent[s.EventType]++
		byRegion[s.Region]++
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, "📅 Отчёт за неделю\nСигналов: %d\n", len(signals))

	if len(signals) > 0 {
		sb.WriteString("\nПо типам:\n")

		for _, event := range []string{domain.EventAccident, domain.EventOutage, domain.EventRepair, domain.EventOther} {
			if n := byEvent[event]; n > 0 {
				fmt.Fprintf(&sb, "%s: %d\n", domain.EventTypeRU[event], n)
			}
		}

		sb.WriteString("\nТоп регионов:\n")

		for _, region := range topRegions(byRegion, 3) {
			fmt.Fprintf(&sb, "%s: %d\n", region, byRegion[region])
		}
	}

	fmt.Fprintf(&sb, "\nРасход LLM: $%.4f", cost)

	return sb.String(), nil
}

func topRegions(counts map[string]int, limit int) []string {
	regions := make([]string, 0, len(counts))
	for r := range counts {
		regions = append(regions, r)
	}

	sort.Slice(regions, func(i, j int) bool {
		if counts[regions[i]] != counts[regions[j]] {
			return counts[regions[i]] > counts[regions[j]]
		}

		return regions[i] < regions[j]
	})

	if len(regions) > limit {
		regions = regions[:limit]
	}

	return regions
}
