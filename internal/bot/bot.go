// Package bot is the subscriber-facing command surface. Anyone can
// subscribe; operational commands are restricted to the admin chat.
package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

// API is the slice of the bot client the command surface needs.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
}

// Store is the bot's view of persistence.
type Store interface {
	Subscribe(ctx context.Context, chatID int64) (*domain.Subscriber, bool, error)
	Unsubscribe(ctx context.Context, chatID int64) error
	TouchSubscriber(ctx context.Context, chatID int64) error
	ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	CountSignalsToday(ctx context.Context, loc *time.Location) (int, error)
	CountNewsByStatus(ctx context.Context, since time.Time) (map[domain.Status]int, error)
	SignalsSince(ctx context.Context, since time.Time) ([]domain.Signal, error)
	UpdateSignalFeedback(ctx context.Context, id int64, score int) error
	ConfigOverrides(ctx context.Context) (map[string]string, error)
	SetConfigOverride(ctx context.Context, key, value string, updatedBy int64) error
	ResetConfigOverride(ctx context.Context, key string, updatedBy int64) error
	SourceHealthSnapshot(ctx context.Context) ([]domain.SourceHealth, error)
	LLMErrorsSince(ctx context.Context, since time.Time) (int, error)
	LLMCostSince(ctx context.Context, since time.Time) (float64, error)
	DailyLLMCost(ctx context.Context, loc *time.Location) (float64, error)
	Ping(ctx context.Context) error
}

// CycleRunner triggers one pipeline cycle on demand.
type CycleRunner interface {
	RunCycle(ctx context.Context) error
}

// BreakerStatus reports the LLM circuit breaker state for /health.
type BreakerStatus interface {
	BreakerState() string
}

type Bot struct {
	api         API
	store       Store
	runtime     *config.Runtime
	breaker     BreakerStatus
	cycles      CycleRunner
	loc         *time.Location
	adminChatID int64
	logger      zerolog.Logger
}

func New(
	api API,
	store Store,
	runtime *config.Runtime,
	breaker BreakerStatus,
	cycles CycleRunner,
	adminChatID int64,
	loc *time.Location,
	logger zerolog.Logger,
) *Bot {
	return &Bot{
		api:         api,
		store:       store,
		runtime:     runtime,
		breaker:     breaker,
		cycles:      cycles,
		loc:         loc,
		adminChatID: adminChatID,
		logger:      logger,
	}
}

// Run consumes updates until the context is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}

			if update.Message == nil {
				continue
			}

			b.handleMessage(ctx, update.Message)
		}
	}
}

func (b *Bot) isAdmin(chatID int64) bool {
	return b.adminChatID != 0 && chatID == b.adminChatID
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if !msg.IsCommand() {
		return
	}

	chatID := msg.Chat.ID

	b.logger.Info().Str("command", msg.Command()).Msg("handling command")

	if err := b.store.TouchSubscriber(ctx, chatID); err != nil {
		b.logger.Warn().Err(err).Msg("failed to touch subscriber")
	}

	switch msg.Command() {
	case "start":
		b.handleStart(ctx, chatID)
	case "stop":
		b.handleStop(ctx, chatID)
	case "stats":
		b.handleStats(ctx, chatID)
	case "privacy":
		b.reply(chatID, b.runtime.Current().UI.Privacy)
	case "help":
		b.reply(chatID, b.runtime.Current().UI.Help)
	case "health":
		b.adminOnly(chatID, func() { b.handleHealth(ctx, chatID) })
	case "cycle":
		b.adminOnly(chatID, func() { b.handleCycle(ctx, chatID) })
	case "config_show":
		b.adminOnly(chatID, func() { b.handleConfigShow(ctx, chatID) })
	case "config_set":
		b.adminOnly(chatID, func() { b.handleConfigSet(ctx, chatID, msg.CommandArguments()) })
	case "config_reset":
		b.adminOnly(chatID, func() { b.handleConfigReset(ctx, chatID, msg.CommandArguments()) })
	case "report_week":
		b.adminOnly(chatID, func() { b.handleReportWeek(ctx, chatID) })
	default:
		b.reply(chatID, b.runtime.Current().UI.Help)
	}
}

func (b *Bot) adminOnly(chatID int64, fn func()) {
	if !b.isAdmin(chatID) {
		b.logger.Warn().Msg("admin command from non-admin chat")
		b.reply(chatID, "❌ Команда недоступна.")

		return
	}

	fn()
}

// handleCallback records signal feedback from the admin's inline buttons.
// Callback data is "fb:good:<signal_id>" or "fb:bad:<signal_id>".
func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil || !b.isAdmin(query.Message.Chat.ID) {
		return
	}

	parts := strings.Split(query.Data, ":")
	if len(parts) != 3 || parts[0] != "fb" {
		return
	}

	var score int

	switch parts[1] {
	case "good":
		score = 1
	case "bad":
		score = -1
	default:
		return
	}

	signalID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		b.logger.Warn().Str("data", query.Data).Msg("malformed feedback callback")

		return
	}

	if err := b.store.UpdateSignalFeedback(ctx, signalID, score); err != nil {
		b.logger.Error().Err(err).Int64("signal_id", signalID).Msg("failed to save feedback")

		return
	}

	callback := tgbotapi.NewCallback(query.ID, "Спасибо за оценку.")
	if _, err := b.api.Request(callback); err != nil {
		b.logger.Error().Err(err).Msg("failed to ack callback")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Error().Err(err).Msg("failed to send reply")
	}
}
