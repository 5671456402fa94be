package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

type fakeAPI struct {
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}

	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)

	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, f.sent)

	return f.sent[len(f.sent)-1].Text
}

type fakeStore struct {
	created      bool
	subscribed   []int64
	unsubscribed []int64
	touched      []int64
	counts       map[domain.Status]int
	signalsToday int
	subs         []domain.Subscriber
	signals      []domain.Signal
	feedback     map[int64]int
	overrides    map[string]string
	setKeys      []string
	resetKeys    []string
	health       []domain.SourceHealth
	llmErrors    int
	dailyCost    float64
	costSince    float64
	pingErr      error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		counts:    map[domain.Status]int{},
		feedback:  map[int64]int{},
		overrides: map[string]string{},
	}
}

func (f *fakeStore) Subscribe(_ context.Context, chatID int64) (*domain.Subscriber, bool, error) {
	f.subscribed = append(f.subscribed, chatID)

	return &domain.Subscriber{ChatID: chatID, IsActive: true}, f.created, nil
}

func (f *fakeStore) Unsubscribe(_ context.Context, chatID int64) error {
	f.unsubscribed = append(f.unsubscribed, chatID)

	return nil
}

func (f *fakeStore) TouchSubscriber(_ context.Context, chatID int64) error {
	f.touched = append(f.touched, chatID)

	return nil
}

func (f *fakeStore) ActiveSubscribers(context.Context) ([]domain.Subscriber, error) {
	return f.subs, nil
}

func (f *fakeStore) CountSignalsToday(context.Context, *time.Location) (int, error) {
	return f.signalsToday, nil
}

func (f *fakeStore) CountNewsByStatus(context.Context, time.Time) (map[domain.Status]int, error) {
	return f.counts, nil
}

func (f *fakeStore) SignalsSince(context.Context, time.Time) ([]domain.Signal, error) {
	return f.signals, nil
}

func (f *fakeStore) UpdateSignalFeedback(_ context.Context, id int64, score int) error {
	f.feedback[id] = score

	return nil
}

func (f *fakeStore) ConfigOverrides(context.Context) (map[string]string, error) {
	return f.overrides, nil
}

func (f *fakeStore) SetConfigOverride(_ context.Context, key, value string, _ int64) error {
	f.overrides[key] = value
	f.setKeys = append(f.setKeys, key)

	return nil
}

func (f *fakeStore) ResetConfigOverride(_ context.Context, key string, _ int64) error {
	delete(f.overrides, key)
	f.resetKeys = append(f.resetKeys, key)

	return nil
}

func (f *fakeStore) SourceHealthSnapshot(context.Context) ([]domain.SourceHealth, error) {
	return f.health, nil
}

func (f *fakeStore) LLMErrorsSince(context.Context, time.Time) (int, error) {
	return f.llmErrors, nil
}

func (f *fakeStore) LLMCostSince(context.Context, time.Time) (float64, error) {
	return f.costSince, nil
}

func (f *fakeStore) DailyLLMCost(context.Context, *time.Location) (float64, error) {
	return f.dailyCost, nil
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

type fakeBreaker struct{ state string }

func (f *fakeBreaker) BreakerState() string { return f.state }

const adminChat int64 = 99

func newTestBot(store *fakeStore) (*Bot, *fakeAPI) {
	api := &fakeAPI{}
	runtime := config.NewRuntime(config.Default(), store, zerolog.Nop())
	b := New(api, store, runtime, &fakeBreaker{state: "closed"}, nil, adminChat, time.UTC, zerolog.Nop())

	return b, api
}

func command(chatID int64, text string) *tgbotapi.Message {
	cmdLen := len(text)
	if i := strings.IndexAny(text, " \n"); i >= 0 {
		cmdLen = i
	}

	return &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: chatID},
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: cmdLen},
		},
	}
}

func TestStartNewSubscriber(t *testing.T) {
	store := newFakeStore()
	store.created = true
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(1, "/start"))

	assert.Equal(t, []int64{1}, store.subscribed)
	assert.Equal(t, []int64{1}, store.touched)
	assert.Equal(t, "Привет. Подписка включена.", api.lastText(t))
}

func TestStartExistingSubscriberGetsDifferentText(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(1, "/start"))

	assert.Equal(t, "Подписка уже активна.", api.lastText(t))
}

func TestStartAdminGetsSuffix(t *testing.T) {
	store := newFakeStore()
	store.created = true
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/start"))

	assert.True(t, strings.HasSuffix(api.lastText(t), "Вы администратор."))
}

func TestStopUnsubscribes(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(5, "/stop"))

	assert.Equal(t, []int64{5}, store.unsubscribed)
	assert.Equal(t, "Подписка отключена.", api.lastText(t))
}

func TestAdminCommandRejectedForOthers(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	for _, cmd := range []string{"/health", "/cycle", "/config_show", "/config_set a 1", "/config_reset a", "/report_week"} {
		b.handleMessage(context.Background(), command(7, cmd))
		assert.Equal(t, "❌ Команда недоступна.", api.lastText(t), cmd)
	}

	assert.Empty(t, store.setKeys)
}

func TestStatsText(t *testing.T) {
	store := newFakeStore()
	store.counts = map[domain.Status]int{
		domain.StatusSent:      2,
		domain.StatusFiltered:  10,
		domain.StatusDuplicate: 3,
		domain.StatusRaw:       1,
	}
	store.signalsToday = 2
	store.subs = []domain.Subscriber{{ChatID: 1}, {ChatID: 2}}
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(1, "/stats"))

	text := api.lastText(t)
	assert.Contains(t, text, "Собрано: 16")
	assert.Contains(t, text, "Отфильтровано: 13")
	assert.Contains(t, text, "Отправлено: 2")
	assert.Contains(t, text, "Сигналов сегодня: 2/5")
	assert.Contains(t, text, "Подписчиков: 2")
}

func TestHealthText(t *testing.T) {
	store := newFakeStore()
	store.llmErrors = 4
	store.dailyCost = 0.25
	store.health = []domain.SourceHealth{
		{SourceID: "a", IsDisabled: true},
		{SourceID: "b"},
	}
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/health"))

	text := api.lastText(t)
	assert.Contains(t, text, "БД: OK")
	assert.Contains(t, text, "LLM breaker: closed")
	assert.Contains(t, text, "Ошибки LLM за час: 4")
	assert.Contains(t, text, "$0.2500")
	assert.Contains(t, text, "Отключённых источников: 1")
}

func TestConfigSetValidKey(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/config_set limits.max_signals_per_day 8"))

	assert.Equal(t, []string{"limits.max_signals_per_day"}, store.setKeys)
	assert.Equal(t, "✅ limits.max_signals_per_day = 8", api.lastText(t))
	// The runtime picked up the override.
	assert.Equal(t, 8, b.runtime.Current().Limits.MaxSignalsPerDay)
}

func TestConfigSetRejectsUnknownKey(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/config_set no.such.key 1"))

	assert.Empty(t, store.setKeys)
	assert.Contains(t, api.lastText(t), "Отклонено")
}

func TestConfigSetRejectsBadValue(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/config_set thresholds.llm_urgency high"))

	assert.Empty(t, store.setKeys)
	assert.Contains(t, api.lastText(t), "Отклонено")
}

func TestConfigResetRestoresBase(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/config_set limits.max_signals_per_day 8"))
	require.Equal(t, 8, b.runtime.Current().Limits.MaxSignalsPerDay)

	b.handleMessage(context.Background(), command(adminChat, "/config_reset limits.max_signals_per_day"))

	assert.Equal(t, []string{"limits.max_signals_per_day"}, store.resetKeys)
	assert.Equal(t, 5, b.runtime.Current().Limits.MaxSignalsPerDay)
	assert.Contains(t, api.lastText(t), "сброшен")
}

func TestConfigShowListsOverrides(t *testing.T) {
	store := newFakeStore()
	store.overrides["dedup.simhash_threshold"] = "4"
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(adminChat, "/config_show"))

	text := api.lastText(t)
	assert.Contains(t, text, "dedup.simhash_threshold = 4")
	assert.Contains(t, text, "thresholds.llm_relevance")
}

func TestFeedbackCallback(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	query := &tgbotapi.CallbackQuery{
		ID:      "q1",
		Data:    "fb:good:41",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: adminChat}},
	}
	b.handleCallback(context.Background(), query)

	assert.Equal(t, map[int64]int{41: 1}, store.feedback)
	require.Len(t, api.requests, 1)

	query.Data = "fb:bad:41"
	b.handleCallback(context.Background(), query)

	assert.Equal(t, map[int64]int{41: -1}, store.feedback)
}

func TestFeedbackCallbackIgnoresNonAdminAndGarbage(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q1",
		Data:    "fb:good:41",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
	})
	b.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q2",
		Data:    "fb:good:not-a-number",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: adminChat}},
	})
	b.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "q3",
		Data:    "rate:abc:up",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: adminChat}},
	})

	assert.Empty(t, store.feedback)
	assert.Empty(t, api.requests)
}

func TestWeeklyReport(t *testing.T) {
	store := newFakeStore()
	store.costSince = 0.42
	store.signals = []domain.Signal{
		{EventType: domain.EventAccident, Region: "Свердловская область"},
		{EventType: domain.EventAccident, Region: "Свердловская область"},
		{EventType: domain.EventRepair, Region: "Пермский край"},
	}
	b, _ := newTestBot(store)

	report, err := b.WeeklyReport(context.Background())
	require.NoError(t, err)

	assert.Contains(t, report, "Сигналов: 3")
	assert.Contains(t, report, "авария: 2")
	assert.Contains(t, report, "ремонт: 1")
	assert.Contains(t, report, "Свердловская область: 2")
	assert.Contains(t, report, "$0.4200")
}

func TestUnknownCommandRepliesHelp(t *testing.T) {
	store := newFakeStore()
	b, api := newTestBot(store)

	b.handleMessage(context.Background(), command(1, "/frobnicate"))

	assert.Equal(t, "Команды: /start /stop /stats /privacy", api.lastText(t))
}
