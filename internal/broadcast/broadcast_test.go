package broadcast

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/infrawatch/signal-bot/internal/domain"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	errs map[int64][]error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}

	if queue := f.errs[msg.ChatID]; len(queue) > 0 {
		err := queue[0]
		f.errs[msg.ChatID] = queue[1:]

		if err != nil {
			return tgbotapi.Message{}, err
		}
	}

	f.sent = append(f.sent, msg)

	return tgbotapi.Message{}, nil
}

type fakeSubs struct {
	subs        []domain.Subscriber
	deactivated []int64
}

func (f *fakeSubs) ActiveSubscribers(context.Context) ([]domain.Subscriber, error) {
	return f.subs, nil
}

func (f *fakeSubs) DeactivateSubscriber(_ context.Context, chatID int64) error {
	f.deactivated = append(f.deactivated, chatID)

	return nil
}

func newTestBroadcaster(api sender, store SubscriberStore, adminID int64) *Broadcaster {
	b := New(api, store, 15, adminID, zerolog.Nop())
	b.limiter = rate.NewLimiter(rate.Inf, 1)
	b.sleep = func(context.Context, time.Duration) error { return nil }

	return b
}

func subscribers(ids ...int64) []domain.Subscriber {
	out := make([]domain.Subscriber, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Subscriber{ChatID: id, IsActive: true})
	}

	return out
}

func TestSendSignalAllDelivered(t *testing.T) {
	api := &fakeSender{}
	store := &fakeSubs{subs: subscribers(1, 2, 3)}
	b := newTestBroadcaster(api, store, 0)

	sent, failed, err := b.SendSignal(context.Background(), 7, "текст сигнала")
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Zero(t, failed)
	assert.Empty(t, store.deactivated)

	// Plain text, no parse mode.
	for _, msg := range api.sent {
		assert.Empty(t, msg.ParseMode)
		assert.Nil(t, msg.ReplyMarkup)
	}
}

func TestSendSignalDeactivatesBlockedAndMissing(t *testing.T) {
	api := &fakeSender{errs: map[int64][]error{
		2: {&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}},
		3: {&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}},
	}}
	store := &fakeSubs{subs: subscribers(1, 2, 3)}
	b := newTestBroadcaster(api, store, 0)

	sent, failed, err := b.SendSignal(context.Background(), 7, "текст")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, failed)
	assert.ElementsMatch(t, []int64{2, 3}, store.deactivated)
}

func TestSendSignalFloodWaitRetriesOnce(t *testing.T) {
	api := &fakeSender{errs: map[int64][]error{
		1: {&tgbotapi.Error{
			Code:               429,
			Message:            "Too Many Requests",
			ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3},
		}},
	}}
	store := &fakeSubs{subs: subscribers(1)}

	var slept []time.Duration

	b := newTestBroadcaster(api, store, 0)
	b.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)

		return nil
	}

	sent, failed, err := b.SendSignal(context.Background(), 7, "текст")
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Zero(t, failed)
	assert.Empty(t, store.deactivated)
	require.Len(t, slept, 1)
	assert.Equal(t, 3*time.Second, slept[0])
}

func TestSendSignalAdminGetsFeedbackButtons(t *testing.T) {
	api := &fakeSender{}
	store := &fakeSubs{subs: subscribers(1, 99)}
	b := newTestBroadcaster(api, store, 99)

	_, _, err := b.SendSignal(context.Background(), 41, "текст")
	require.NoError(t, err)
	require.Len(t, api.sent, 2)

	assert.Nil(t, api.sent[0].ReplyMarkup)

	kb, ok := api.sent[1].ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "fb:good:41", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "fb:bad:41", *kb.InlineKeyboard[0][1].CallbackData)
}

func TestClassifySendError(t *testing.T) {
	kind, _ := classifySendError(&tgbotapi.Error{Code: 403, Message: "Forbidden"})
	assert.Equal(t, SendErrForbidden, kind)

	kind, _ = classifySendError(&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"})
	assert.Equal(t, SendErrNotFound, kind)

	kind, _ = classifySendError(&tgbotapi.Error{Code: 400, Message: "Bad Request: message is too long"})
	assert.Equal(t, SendErrOther, kind)

	kind, wait := classifySendError(&tgbotapi.Error{
		Code:               429,
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5},
	})
	assert.Equal(t, SendErrFloodWait, kind)
	assert.Equal(t, 5*time.Second, wait)

	kind, _ = classifySendError(errors.New("dial tcp: timeout"))
	assert.Equal(t, SendErrOther, kind)
}
