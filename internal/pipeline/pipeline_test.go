package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
	"github.com/infrawatch/signal-bot/internal/llm"
	"github.com/infrawatch/signal-bot/internal/storage"
)

type watchlistEntry struct {
	newsID int64
	reason string
	score  float64
}

type fakeStore struct {
	lockHeld bool
	acquired bool
	released bool

	nextID   int64
	news     map[int64]*domain.NewsItem
	byURL    map[string]int64
	llmJSON  map[int64]string
	simhashs []storage.SimhashEntry

	signalsToday int
	limitReached bool
	similar      *domain.Signal
	created      []*domain.Signal
	recipients   map[int64]int

	nextPendingID int64
	pending       map[int64]string

	watchlist []watchlistEntry

	openIncident *domain.Incident
	touched      []int64
	incidents    []*domain.Incident
}

func newStore() *fakeStore {
	return &fakeStore{
		news:       map[int64]*domain.NewsItem{},
		byURL:      map[string]int64{},
		llmJSON:    map[int64]string{},
		recipients: map[int64]int{},
		pending:    map[int64]string{},
	}
}

func (f *fakeStore) AcquireLock(context.Context, string, time.Duration, string) (bool, error) {
	if f.lockHeld {
		return false, nil
	}

	f.acquired = true

	return true, nil
}

func (f *fakeStore) ReleaseLock(context.Context, string) error {
	f.released = true

	return nil
}

func (f *fakeStore) InsertNews(_ context.Context, item *domain.NewsItem) (int64, error) {
	if _, ok := f.byURL[item.URLNormalized]; ok {
		return 0, storage.ErrDuplicateURL
	}

	f.nextID++
	stored := *item
	stored.ID = f.nextID
	f.news[f.nextID] = &stored
	f.byURL[item.URLNormalized] = f.nextID

	return f.nextID, nil
}

func (f *fakeStore) SetNewsStatus(_ context.Context, id int64, status domain.Status) error {
	f.news[id].Status = status

	return nil
}

func (f *fakeStore) SetNewsRegion(_ context.Context, id int64, region string) error {
	f.news[id].Region = region

	return nil
}

func (f *fakeStore) SetNewsFilter1Score(_ context.Context, id int64, score int) error {
	f.news[id].Filter1Score = score

	return nil
}

func (f *fakeStore) SetNewsLLMResult(_ context.Context, id int64, llmJSON, raw string, status domain.Status) error {
	f.llmJSON[id] = llmJSON
	f.news[id].LLMRawResponse = raw
	f.news[id].Status = status

	return nil
}

func (f *fakeStore) RecentSimhashes(context.Context, time.Time) ([]storage.SimhashEntry, error) {
	return f.simhashs, nil
}

func (f *fakeStore) CountSignalsToday(context.Context, *time.Location) (int, error) {
	return f.signalsToday, nil
}

func (f *fakeStore) TryCreateSignalIfUnderLimit(
	_ context.Context, sig *domain.Signal, _ int, _ *time.Location,
) (*domain.Signal, error) {
	if f.limitReached {
		return nil, nil
	}

	created := *sig
	created.ID = int64(len(f.created) + 1)
	f.created = append(f.created, &created)

	return &created, nil
}

func (f *fakeStore) FindSimilarRecentSignal(context.Context, string, string, string, time.Duration) (*domain.Signal, error) {
	return f.similar, nil
}

func (f *fakeStore) UpdateSignalRecipients(_ context.Context, id int64, count int) error {
	f.recipients[id] = count

	return nil
}

func (f *fakeStore) InsertPendingSignal(_ context.Context, p *domain.PendingSignal) (int64, error) {
	f.nextPendingID++
	f.pending[f.nextPendingID] = "pending"

	return f.nextPendingID, nil
}

func (f *fakeStore) MarkPendingSignal(_ context.Context, id int64, status string) error {
	f.pending[id] = status

	return nil
}

func (f *fakeStore) AddToWatchlist(_ context.Context, newsID int64, reason string, score float64) error {
	f.watchlist = append(f.watchlist, watchlistEntry{newsID: newsID, reason: reason, score: score})

	return nil
}

func (f *fakeStore) FindOpenIncident(context.Context, string, string, time.Duration) (*domain.Incident, error) {
	return f.openIncident, nil
}

func (f *fakeStore) TouchIncident(_ context.Context, id int64) error {
	f.touched = append(f.touched, id)

	return nil
}

func (f *fakeStore) CreateIncident(_ context.Context, inc *domain.Incident) (int64, error) {
	f.incidents = append(f.incidents, inc)

	return int64(len(f.incidents)), nil
}

func (f *fakeStore) itemByURL(t *testing.T, url string) *domain.NewsItem {
	t.Helper()

	id, ok := f.byURL[url]
	require.True(t, ok, "no item for %s", url)

	return f.news[id]
}

type fakeFetcher struct{ items []domain.RawItem }

func (f *fakeFetcher) FetchAll(context.Context, []config.Source) []domain.RawItem {
	return f.items
}

type fakeLLM struct {
	results map[string]llm.Result
	cycles  int
	calls   []llm.Input
}

func (f *fakeLLM) BeginCycle() { f.cycles++ }

func (f *fakeLLM) BreakerState() string { return "closed" }

func (f *fakeLLM) Analyze(_ context.Context, in llm.Input) llm.Result {
	f.calls = append(f.calls, in)

	if res, ok := f.results[in.Title]; ok {
		return res
	}

	return llm.Result{Code: domain.CodeLLMAPIError}
}

type fakeBroadcaster struct {
	sent []int64
	text []string
}

func (f *fakeBroadcaster) SendSignal(_ context.Context, signalID int64, text string) (int, int, error) {
	f.sent = append(f.sent, signalID)
	f.text = append(f.text, text)

	return 3, 0, nil
}

type noOverrides struct{}

func (noOverrides) ConfigOverrides(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}

func goodVerdict() *domain.Verdict {
	return &domain.Verdict{
		EventType: domain.EventAccident,
		Relevance: 0.9,
		Urgency:   4,
		Object:    domain.ObjectHeat,
		Why:       "Без тепла жилой район",
		Action:    domain.ActionCall,
	}
}

func approvedResult(v *domain.Verdict) llm.Result {
	return llm.Result{Verdict: v, Raw: "{}"}
}

func recentTime(d time.Duration) *time.Time {
	t := time.Now().UTC().Add(-d)

	return &t
}

// goodItem passes freshness, resolved, noise and the keyword combo gate
// with the default config. Keyword terms appear in dictionary form because
// the filter matches plain substrings.
func goodItem(url string) domain.RawItem {
	return domain.RawItem{
		SourceID:    "ria",
		SourceName:  "РИА",
		URL:         url,
		Title:       "Авария в Екатеринбурге: котельная остановлена",
		RawHTML:     "<p>Прорыв на сетях, жители остались без тепла. Бригады работают на месте.</p>",
		PublishedAt: recentTime(2 * time.Hour),
	}
}

func newTestPipeline(store *fakeStore, fetcher *fakeFetcher, llmc llm.Client) (*Pipeline, *fakeBroadcaster) {
	bc := &fakeBroadcaster{}
	runtime := config.NewRuntime(config.Default(), noOverrides{}, zerolog.Nop())
	p := New(store, fetcher, llmc, bc, runtime, time.UTC, zerolog.Nop())

	return p, bc
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	store := newStore()
	store.lockHeld = true
	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{goodItem("https://a.ru/news/1")}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Zero(t, llmc.cycles)
	assert.Empty(t, store.news)
	assert.False(t, store.released)
}

func TestRunCycleApprovedItemBecomesSignal(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	llmc := &fakeLLM{results: map[string]llm.Result{
		item.Title: approvedResult(goodVerdict()),
	}}
	p, bc := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.created, 1)
	sig := store.created[0]
	assert.Equal(t, domain.EventAccident, sig.EventType)
	assert.Equal(t, "ЖКХ", sig.Sphere)
	assert.Equal(t, "Свердловская область", sig.Region)

	// Broadcast happened and the recipient count landed on the signal.
	require.Len(t, bc.sent, 1)
	assert.Contains(t, bc.text[0], "🚨 СИГНАЛ | авария | 4/5")
	assert.Equal(t, 3, store.recipients[sig.ID])

	news := store.news[sig.NewsID]
	assert.Equal(t, domain.StatusSent, news.Status)
	assert.NotEmpty(t, store.llmJSON[sig.NewsID])
	assert.Positive(t, news.Filter1Score)

	// A fresh incident was opened and the pending row finalized.
	require.Len(t, store.incidents, 1)
	assert.Equal(t, map[int64]string{1: "sent"}, store.pending)
	assert.Equal(t, 1, llmc.cycles)
	assert.True(t, store.released)
}

func TestStaleItemPersistedAsFilteredOld(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	item.PublishedAt = recentTime(5 * 24 * time.Hour)
	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.news, 1)
	assert.Equal(t, domain.StatusFilteredOld, store.news[1].Status)
	assert.Empty(t, llmc.calls)
}

func TestSimhashDuplicateGetsCanonicalReference(t *testing.T) {
	store := newStore()
	first := goodItem("https://a.ru/news/1")
	second := goodItem("https://b.ru/other/2")
	llmc := &fakeLLM{results: map[string]llm.Result{
		first.Title: approvedResult(goodVerdict()),
	}}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{first, second}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.news, 2)

	dup := store.itemByURL(t, "https://b.ru/other/2")
	assert.Equal(t, domain.StatusDuplicate, dup.Status)
	require.NotNil(t, dup.CanonicalID)
	assert.Equal(t, int64(1), *dup.CanonicalID)

	// The duplicate never reached the LLM.
	assert.Len(t, llmc.calls, 1)
}

func TestDuplicateURLDropped(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1?utm_source=tg")
	store.byURL["https://a.ru/news/1"] = 0
	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Empty(t, store.news)
	assert.Empty(t, llmc.calls)
}

func TestNoiseItemRejected(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	item.Title = "Погиб рабочий при обрушении"
	item.RawHTML = "<p>На стройке погиб рабочий, возбуждено уголовное дело.</p>"
	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.news, 1)
	assert.Equal(t, domain.StatusFilteredNoise, store.news[1].Status)
	assert.Empty(t, llmc.calls)
}

func TestResolvedItemRejected(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	item.Title = "Авария на котельной устранена"
	item.RawHTML = "<p>Теплоснабжение восстановлено, работы завершены.</p>"
	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.news, 1)
	assert.Equal(t, domain.StatusFilteredResolved, store.news[1].Status)
	assert.Empty(t, llmc.calls)
}

func TestLowScoreItemNeverReachesLLM(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	item.Title = "Городская афиша на выходные"
	item.RawHTML = "<p>Концерты, выставки и спектакли в эти выходные.</p>"
	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.news, 1)
	assert.Equal(t, domain.StatusFiltered, store.news[1].Status)
	assert.Empty(t, llmc.calls)
}

func TestGuardrailStopParksItemAsSkipped(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	llmc := &fakeLLM{results: map[string]llm.Result{
		item.Title: {Code: domain.CodeBudgetExceeded},
	}}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, domain.StatusLLMSkipped, store.news[1].Status)
}

func TestTransientLLMFailureMarksFailed(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	llmc := &fakeLLM{results: map[string]llm.Result{
		item.Title: {Code: domain.CodeLLMTimeout},
	}}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, domain.StatusLLMFailed, store.news[1].Status)
}

func TestBorderlineRelevanceGoesToWatchlist(t *testing.T) {
	store := newStore()
	item := goodItem("https://a.ru/news/1")
	v := goodVerdict()
	v.Relevance = 0.55
	llmc := &fakeLLM{results: map[string]llm.Result{
		item.Title: approvedResult(v),
	}}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, domain.StatusFiltered, store.news[1].Status)
	require.Len(t, store.watchlist, 1)
	assert.Equal(t, domain.CodeLowRelevance, store.watchlist[0].reason)
	assert.InDelta(t, 0.55, store.watchlist[0].score, 1e-9)
	assert.Empty(t, store.created)
}

func TestDailyLimitSuppressesAtPromotion(t *testing.T) {
	store := newStore()
	store.limitReached = true
	item := goodItem("https://a.ru/news/1")
	llmc := &fakeLLM{results: map[string]llm.Result{
		item.Title: approvedResult(goodVerdict()),
	}}
	p, bc := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, domain.StatusSuppressedLimit, store.news[1].Status)
	assert.Empty(t, bc.sent)
	assert.Equal(t, map[int64]string{1: "skipped"}, store.pending)
}

func TestSimilarSignalSuppressedAndIncidentTouched(t *testing.T) {
	store := newStore()
	store.similar = &domain.Signal{ID: 10}
	store.openIncident = &domain.Incident{ID: 4}
	item := goodItem("https://a.ru/news/1")
	llmc := &fakeLLM{results: map[string]llm.Result{
		item.Title: approvedResult(goodVerdict()),
	}}
	p, bc := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{item}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	assert.Equal(t, domain.StatusSuppressedSimilar, store.news[1].Status)
	assert.Empty(t, bc.sent)
	assert.Empty(t, store.created)
	assert.Equal(t, []int64{4}, store.touched)
}

func TestPromotePicksHighestPriorityFirst(t *testing.T) {
	store := newStore()
	low := goodItem("https://a.ru/news/low")
	low.Title = "Ремонт: теплотрасса в Перми выведена в резерв"
	low.RawHTML = "<p>Подрядчик меняет трубы, жителей предупредили об отключении горячей воды.</p>"
	high := goodItem("https://a.ru/news/high")

	lowVerdict := goodVerdict()
	lowVerdict.Relevance = 0.7
	lowVerdict.Urgency = 3
	lowVerdict.EventType = domain.EventRepair

	llmc := &fakeLLM{results: map[string]llm.Result{
		low.Title:  approvedResult(lowVerdict),
		high.Title: approvedResult(goodVerdict()),
	}}
	p, _ := newTestPipeline(store, &fakeFetcher{items: []domain.RawItem{low, high}}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, store.created, 2)
	assert.Equal(t, domain.EventAccident, store.created[0].EventType)
	assert.Equal(t, domain.EventRepair, store.created[1].EventType)
}

func TestBackpressureCapsItems(t *testing.T) {
	store := newStore()

	items := make([]domain.RawItem, 0, 120)
	for i := 0; i < 120; i++ {
		items = append(items, goodItem(fmt.Sprintf("https://a.ru/news/%d", i)))
	}

	llmc := &fakeLLM{}
	p, _ := newTestPipeline(store, &fakeFetcher{items: items}, llmc)

	require.NoError(t, p.RunCycle(context.Background()))

	// Default cap is 100: the excess 20 items were dropped before the funnel.
	assert.Len(t, store.news, 100)
}
