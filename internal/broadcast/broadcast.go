// Package broadcast delivers signal messages to all active subscribers
// with send pacing and per-recipient failure handling.
package broadcast

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// sender is the slice of the bot API the broadcaster needs.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SubscriberStore lists delivery targets and deactivates dead ones.
type SubscriberStore interface {
	ActiveSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	DeactivateSubscriber(ctx context.Context, chatID int64) error
}

// Broadcaster sends plain-text messages sequentially, paced by a token
// bucket to stay under the chat provider's flood limits.
type Broadcaster struct {
	api         sender
	store       SubscriberStore
	limiter     *rate.Limiter
	logger      zerolog.Logger
	adminChatID int64

	sleep func(ctx context.Context, d time.Duration) error
}

func New(api sender, store SubscriberStore, messagesPerSecond float64, adminChatID int64, logger zerolog.Logger) *Broadcaster {
	if messagesPerSecond <= 0 {
		messagesPerSecond = 15
	}

	return &Broadcaster{
		api:         api,
		store:       store,
		limiter:     rate.NewLimiter(rate.Limit(messagesPerSecond), 1),
		logger:      logger,
		adminChatID: adminChatID,
		sleep:       sleepCtx,
	}
}

// SendSignal delivers one signal to every active subscriber. The admin
// copy carries feedback buttons keyed by the signal id. Returns how many
// deliveries succeeded and failed.
func (b *Broadcaster) SendSignal(ctx context.Context, signalID int64, text string) (sent, failed int, err error) {
	subs, err := b.store.ActiveSubscribers(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list subscribers: %w", err)
	}

	if len(subs) == 0 {
		b.logger.Info().Msg("no active subscribers")

		return 0, 0, nil
	}

	var deactivated int

	for _, sub := range subs {
		if err := b.limiter.Wait(ctx); err != nil {
			return sent, failed, fmt.Errorf("broadcast pacing: %w", err)
		}

		msg := tgbotapi.NewMessage(sub.ChatID, text)
		if sub.ChatID == b.adminChatID && b.adminChatID != 0 {
			msg.ReplyMarkup = feedbackKeyboard(signalID)
		}

		ok, dead := b.deliver(ctx, msg, sub.ChatID)
		if ok {
			sent++
		} else {
			failed++
		}

		if dead {
			if derr := b.store.DeactivateSubscriber(ctx, sub.ChatID); derr != nil {
				b.logger.Warn().Err(derr).Int64("chat_id", sub.ChatID).Msg("failed to deactivate subscriber")
			} else {
				deactivated++
			}
		}
	}

	b.logger.Info().
		Int64("signal_id", signalID).
		Int("sent", sent).
		Int("failed", failed).
		Int("deactivated", deactivated).
		Msg("broadcast complete")

	return sent, failed, nil
}

// Notify sends a plain message to one chat, typically the admin.
func (b *Broadcaster) Notify(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("broadcast pacing: %w", err)
	}

	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("notify chat %d: %w", chatID, err)
	}

	return nil
}

// deliver sends one message, retrying exactly once after a flood wait.
// dead marks recipients that should be deactivated.
func (b *Broadcaster) deliver(ctx context.Context, msg tgbotapi.MessageConfig, chatID int64) (ok, dead bool) {
	_, err := b.api.Send(msg)
	if err == nil {
		return true, false
	}

	kind, wait := classifySendError(err)

	switch kind {
	case SendErrForbidden, SendErrNotFound:
		return false, true

	case SendErrFloodWait:
		b.logger.Warn().Dur("wait", wait).Int64("chat_id", chatID).Msg("flood wait")

		if serr := b.sleep(ctx, wait); serr != nil {
			return false, false
		}

		if _, rerr := b.api.Send(msg); rerr == nil {
			return true, false
		}

		return false, false
	}

	b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")

	return false, false
}

func feedbackKeyboard(signalID int64) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("👍", fmt.Sprintf("fb:good:%d", signalID)),
			tgbotapi.NewInlineKeyboardButtonData("👎", fmt.Sprintf("fb:bad:%d", signalID)),
		),
	)
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
