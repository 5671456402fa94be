package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source describes one news source.
type Source struct {
	ID         string `yaml:"id"`
	Type       string `yaml:"type"` // rss, web, search_feed
	Name       string `yaml:"name"`
	URL        string `yaml:"url"`
	Query      string `yaml:"query"` // search_feed only
	RegionHint string `yaml:"region_hint"`
	HL         string `yaml:"hl"`
	GL         string `yaml:"gl"`
	CEID       string `yaml:"ceid"`
}

// Source kinds.
const (
	SourceRSS        = "rss"
	SourceWeb        = "web"
	SourceSearchFeed = "search_feed"
)

// Keywords holds filter1 term lists.
type Keywords struct {
	Positive map[string][]string `yaml:"positive"`
	Negative []string            `yaml:"negative"`
}

// Weights holds filter1 category weights.
type Weights struct {
	Accident       int `yaml:"accident"`
	Repair         int `yaml:"repair"`
	Infrastructure int `yaml:"infrastructure"`
	Industrial     int `yaml:"industrial"`
	Negative       int `yaml:"negative"`
}

// Thresholds for filter1 and the LLM decision.
type Thresholds struct {
	Filter1ToLLM int     `yaml:"filter1_to_llm"`
	LLMRelevance float64 `yaml:"llm_relevance"`
	LLMUrgency   int     `yaml:"llm_urgency"`
}

// Limits caps signal output.
type Limits struct {
	MaxSignalsPerDay  int `yaml:"max_signals_per_day"`
	MaxItemsPerCycle  int `yaml:"max_items_per_cycle"`
	SimilarWindowHrs  int `yaml:"similar_window_hours"`
	SimhashCacheHours int `yaml:"simhash_cache_hours"`
}

// Dedup settings.
type Dedup struct {
	SimhashThreshold  int      `yaml:"simhash_threshold"`
	URLParamsToRemove []string `yaml:"url_params_to_remove"`
}

// HTTP client settings for source fetching.
type HTTP struct {
	TimeoutSeconds int `yaml:"timeout"`
	Retries        int `yaml:"retries"`
	MaxConcurrent  int `yaml:"max_concurrent"`
}

// Schedule settings.
type Schedule struct {
	CheckIntervalMinutes int `yaml:"check_interval_minutes"`
}

// Freshness gate settings.
type Freshness struct {
	MaxAgeDays              int  `yaml:"max_age_days"`
	AllowMissingPublishedAt bool `yaml:"allow_missing_published_at"`
	FallbackToCollectedAt   bool `yaml:"fallback_to_collected_at"`
}

// ResolvedFilter gate settings.
type ResolvedFilter struct {
	Enabled             bool     `yaml:"enabled"`
	HardResolvedPhrases []string `yaml:"hard_resolved_phrases"`
	SoftResolvedWords   []string `yaml:"soft_resolved_words"`
	OngoingWords        []string `yaml:"allow_if_still_ongoing_words"`
}

// NoiseFilter gate settings.
type NoiseFilter struct {
	Enabled               bool     `yaml:"enabled"`
	HardNegativeTopics    []string `yaml:"hard_negative_topics"`
	DomesticNoise         []string `yaml:"domestic_noise"`
	ExceptionInfraPhrases []string `yaml:"exception_infra_phrases"`
}

// Filter1Gate combo settings.
type Filter1Gate struct {
	RequireComboToLLM        bool     `yaml:"require_combo_to_llm"`
	EventCategoriesRequired  []string `yaml:"event_categories_required"`
	ObjectCategoriesRequired []string `yaml:"object_categories_required"`
	StrongOverrideEnabled    bool     `yaml:"strong_event_override_enabled"`
	StrongOverridePhrases    []string `yaml:"strong_event_override_phrases"`
}

// LLMThrottle settings.
type LLMThrottle struct {
	MaxRequestsPerCycle int   `yaml:"max_requests_per_cycle"`
	BackoffOn429Seconds []int `yaml:"backoff_on_429_seconds"`
	MaxConsecutive429   int   `yaml:"max_consecutive_429"`
	TimeoutSeconds      int   `yaml:"timeout_seconds"`
}

// Broadcast settings.
type Broadcast struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
}

// UIMessages are the bot reply templates.
type UIMessages struct {
	WelcomeNew      string `yaml:"welcome_new"`
	WelcomeExisting string `yaml:"welcome_existing"`
	AdminSuffix     string `yaml:"admin_suffix"`
	Stop            string `yaml:"stop"`
	Help            string `yaml:"help"`
	Privacy         string `yaml:"privacy"`
}

// App is the complete pipeline tuning tree loaded from YAML. The tree is
// immutable once built; overrides produce a new tree via whole-object swap.
type App struct {
	Sources        []Source       `yaml:"sources"`
	Keywords       Keywords       `yaml:"keywords"`
	Weights        Weights        `yaml:"weights"`
	Thresholds     Thresholds     `yaml:"thresholds"`
	Limits         Limits         `yaml:"limits"`
	Dedup          Dedup          `yaml:"dedup"`
	HTTP           HTTP           `yaml:"http"`
	Schedule       Schedule       `yaml:"schedule"`
	Freshness      Freshness      `yaml:"freshness"`
	ResolvedFilter ResolvedFilter `yaml:"resolved_filter"`
	NoiseFilter    NoiseFilter    `yaml:"noise_filter"`
	Filter1Gate    Filter1Gate    `yaml:"filter1_gate"`
	LLMThrottle    LLMThrottle    `yaml:"llm_throttle"`
	Broadcast      Broadcast      `yaml:"broadcast"`
	UI             UIMessages     `yaml:"ui"`
}

// Default returns the built-in tuning tree used when no YAML file exists.
func Default() *App {
	return &App{
		Keywords: Keywords{
			Positive: map[string][]string{
				"accident": {
					"авария", "прорыв", "утечка", "порыв", "остановка",
					"вышел из строя", "ЧП", "чрезвычайная ситуация", "аварийный",
				},
				"repair": {
					"ремонт", "срочный ремонт", "капремонт", "капитальный ремонт",
					"замена", "реконструкция", "модернизация", "восстановление",
				},
				"infrastructure": {
					"водоканал", "насосная станция", "КНС", "ВНС",
					"котельная", "теплосети", "очистные сооружения",
					"водопровод", "канализация", "теплотрасса",
				},
				"industrial": {
					"цех", "агрегат", "производство", "простой",
					"технологический сбой", "остановка производства",
				},
			},
			Negative: []string{
				"ДТП", "дорожно-транспортное происшествие",
				"ремонт дороги", "ремонт моста", "дорожные работы",
				"учения", "тренировка", "условная авария", "плановые учения",
				"квартира", "подъезд", "бытовой", "домашний",
				"автомобиль", "машина столкнулась",
			},
		},
		Weights:    Weights{Accident: 3, Repair: 2, Infrastructure: 4, Industrial: 2, Negative: -5},
		Thresholds: Thresholds{Filter1ToLLM: 4, LLMRelevance: 0.6, LLMUrgency: 3},
		Limits: Limits{
			MaxSignalsPerDay:  5,
			MaxItemsPerCycle:  100,
			SimilarWindowHrs:  24,
			SimhashCacheHours: 72,
		},
		Dedup:     Dedup{SimhashThreshold: 3},
		HTTP:      HTTP{TimeoutSeconds: 15, Retries: 3, MaxConcurrent: 20},
		Schedule:  Schedule{CheckIntervalMinutes: 30},
		Freshness: Freshness{MaxAgeDays: 2, AllowMissingPublishedAt: true, FallbackToCollectedAt: true},
		ResolvedFilter: ResolvedFilter{
			Enabled: true,
			HardResolvedPhrases: []string{
				"авария устранена", "подача воды восстановлена",
				"теплоснабжение восстановлено", "работы завершены",
			},
			SoftResolvedWords: []string{"устранили", "восстановлено", "восстановлена", "завершен"},
			OngoingWords: []string{
				"устраняют", "без воды", "без тепла", "без отопления",
				"продолжаются работы", "остаются без",
			},
		},
		NoiseFilter: NoiseFilter{
			Enabled: true,
			HardNegativeTopics: []string{
				"погиб", "погибла", "убийство", "уголовное дело", "задержан",
			},
			DomesticNoise:         []string{"в квартире", "соседи", "подъезде"},
			ExceptionInfraPhrases: []string{"авария на котельной", "прорыв теплотрассы", "авария на водоканале"},
		},
		Filter1Gate: Filter1Gate{
			RequireComboToLLM:        true,
			EventCategoriesRequired:  []string{"accident", "repair"},
			ObjectCategoriesRequired: []string{"infrastructure", "industrial"},
			StrongOverrideEnabled:    true,
			StrongOverridePhrases:    []string{"остались без отопления", "остались без воды", "коммунальная авария"},
		},
		LLMThrottle: LLMThrottle{
			MaxRequestsPerCycle: 30,
			BackoffOn429Seconds: []int{2, 5, 10, 20, 40},
			MaxConsecutive429:   3,
			TimeoutSeconds:      45,
		},
		Broadcast: Broadcast{MessagesPerSecond: 15},
		UI: UIMessages{
			WelcomeNew:      "Привет. Подписка включена.",
			WelcomeExisting: "Подписка уже активна.",
			AdminSuffix:     "\n\nВы администратор.",
			Stop:            "Подписка отключена.",
			Help:            "Команды: /start /stop /stats /privacy",
			Privacy:         "Используются только открытые источники. Персональные данные не хранятся.",
		},
	}
}

// LoadApp reads the YAML tuning file on top of the defaults. A missing file
// is not an error.
func LoadApp(path string) (*App, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// KeywordWeights flattens the weights struct into the per-category map the
// keyword filter consumes.
func (a *App) KeywordWeights() map[string]int {
	return map[string]int{
		"accident":       a.Weights.Accident,
		"repair":         a.Weights.Repair,
		"infrastructure": a.Weights.Infrastructure,
		"industrial":     a.Weights.Industrial,
	}
}
