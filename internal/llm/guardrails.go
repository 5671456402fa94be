package llm

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

const (
	breakerWindow    = 5 * time.Minute
	breakerThreshold = 5
	breakerCooldown  = 10 * time.Minute

	// Float comparison margin for the daily budget.
	budgetEpsilon = 0.001
)

// Guardrails gates every LLM call: daily budget from the ledger, a shared
// circuit breaker, a per-cycle request cap, and a rolling 429 streak that
// disables the client for the rest of the cycle when exceeded.
type Guardrails struct {
	ledger    Ledger
	budgetUSD float64
	loc       *time.Location
	breaker   *gobreaker.CircuitBreaker
	logger    zerolog.Logger

	mu          sync.Mutex
	cycleCalls  int
	maxPerCycle int
	streak429   int
	maxStreak   int
	disabled    string
}

func NewGuardrails(ledger Ledger, budgetUSD float64, loc *time.Location, throttle config.LLMThrottle, logger zerolog.Logger) *Guardrails {
	g := &Guardrails{
		ledger:      ledger,
		budgetUSD:   budgetUSD,
		loc:         loc,
		logger:      logger,
		maxPerCycle: throttle.MaxRequestsPerCycle,
		maxStreak:   throttle.MaxConsecutive429,
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: 1,
		Interval:    breakerWindow,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= breakerThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("llm circuit state changed")
		},
	})

	return g
}

// BeginCycle resets the per-cycle counters.
func (g *Guardrails) BeginCycle() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cycleCalls = 0
	g.streak429 = 0
	g.disabled = ""
}

// Admit decides whether one classification may start. Returns the empty
// string to allow, or the error code to report without calling. Only an
// admitted call consumes the per-cycle cap.
func (g *Guardrails) Admit(ctx context.Context) string {
	g.mu.Lock()

	if g.disabled != "" {
		code := g.disabled
		g.mu.Unlock()

		return code
	}

	if g.cycleCalls >= g.maxPerCycle {
		g.mu.Unlock()

		return domain.CodeThrottled
	}
	g.mu.Unlock()

	if g.breaker.State() == gobreaker.StateOpen {
		return domain.CodeCircuitOpen
	}

	spent, err := g.ledger.DailyLLMCost(ctx, g.loc)
	if err != nil {
		// A broken ledger read must not stop classification.
		g.logger.Warn().Err(err).Msg("daily llm cost unavailable")
	} else if spent > g.budgetUSD+budgetEpsilon {
		return domain.CodeBudgetExceeded
	}

	g.mu.Lock()
	g.cycleCalls++
	g.mu.Unlock()

	return ""
}

// Do runs one provider attempt through the circuit breaker.
func (g *Guardrails) Do(fn func() (interface{}, error)) (interface{}, error) {
	return g.breaker.Execute(fn)
}

// On429 bumps the rolling 429 streak. When the streak exceeds the limit
// the client is disabled for the rest of the cycle.
func (g *Guardrails) On429() (streak int, disabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.streak429++
	if g.streak429 > g.maxStreak {
		g.disabled = domain.CodeLLMRateLimit

		return g.streak429, true
	}

	return g.streak429, false
}

// OnSuccess clears the 429 streak.
func (g *Guardrails) OnSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.streak429 = 0
}

// DisableForCycle shorts the client until the next BeginCycle.
func (g *Guardrails) DisableForCycle(code string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.disabled = code
}

// BreakerState exposes the circuit state for the health endpoint.
func (g *Guardrails) BreakerState() gobreaker.State {
	return g.breaker.State()
}
