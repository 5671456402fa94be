// Package config carries the two configuration layers: environment secrets
// and the YAML pipeline tuning tree with its DB override registry.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds process-level settings and secrets read from the environment.
type Env struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	PostgresDSN string `env:"POSTGRES_DSN,required"`

	BotToken    string `env:"BOT_TOKEN,required"`
	AdminChatID int64  `env:"ADMIN_CHAT_ID"`

	LLMAPIKey         string   `env:"LLM_API_KEY,required"`
	LLMBaseURL        string   `env:"LLM_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	LLMModel          string   `env:"LLM_MODEL" envDefault:"openai/gpt-4o-mini"`
	LLMFallbackModels []string `env:"LLM_FALLBACK_MODELS" envSeparator:","`
	LLMDailyBudgetUSD float64  `env:"LLM_DAILY_BUDGET_USD" envDefault:"1.0"`

	AppTimezone string `env:"APP_TIMEZONE" envDefault:"Europe/Moscow"`
	ConfigPath  string `env:"CONFIG_PATH" envDefault:"config/config.yaml"`
	HealthPort  int    `env:"HEALTH_PORT" envDefault:"8080"`
}

// LoadEnv reads .env when present and parses the environment.
func LoadEnv() (*Env, error) {
	_ = godotenv.Load()

	cfg := &Env{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}
