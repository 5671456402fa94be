// Package llm classifies news items through an OpenAI-compatible chat
// endpoint with budget, circuit-breaker and throttle guardrails.
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

// Input is one item to classify.
type Input struct {
	Title   string
	Text    string
	Source  string
	Region  string
	TraceID string
}

// Result carries the parsed verdict or an error code, never both. Raw is
// the model output as received, kept for the news row even on parse errors.
type Result struct {
	Verdict *domain.Verdict
	Raw     string
	Code    string
}

// Ledger records every attempt and answers the daily budget question.
type Ledger interface {
	RecordLLMUsage(ctx context.Context, e *domain.LLMUsageEntry) error
	DailyLLMCost(ctx context.Context, loc *time.Location) (float64, error)
}

// Client is the classification surface the pipeline consumes.
type Client interface {
	Analyze(ctx context.Context, in Input) Result
	BeginCycle()
	BreakerState() string
}

// New returns the OpenRouter-backed client, or a mock when the API key is
// the literal "mock".
func New(env *config.Env, throttle config.LLMThrottle, ledger Ledger, loc *time.Location, logger zerolog.Logger) Client {
	if env.LLMAPIKey == "mock" {
		return &mockClient{}
	}

	guard := NewGuardrails(ledger, env.LLMDailyBudgetUSD, loc, throttle, logger)

	return NewOpenRouter(env, throttle, guard, ledger, logger)
}

type mockClient struct{}

func (*mockClient) BeginCycle() {}

func (*mockClient) BreakerState() string { return "closed" }

func (*mockClient) Analyze(_ context.Context, _ Input) Result {
	v := &domain.Verdict{
		EventType: domain.EventOther,
		Relevance: 0.1,
		Urgency:   1,
		Object:    domain.ObjectUnknown,
		Why:       "mock verdict",
		Action:    domain.ActionIgnore,
	}

	raw, _ := json.Marshal(v)

	return Result{Verdict: v, Raw: string(raw)}
}
