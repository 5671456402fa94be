package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

const (
	providerName     = "openrouter"
	maxOutTokens     = 1000
	attemptsPerModel = 2

	// Classification must run at temperature 0, but the client drops a
	// zero field from the request (omitempty) and the provider would then
	// default to 1.0. The smallest positive float stands in for zero.
	requestTemperature = math.SmallestNonzeroFloat32

	// Per-token rates in USD per million, applied to non-free models.
	promptTokenRate     = 1.0
	completionTokenRate = 3.0
)

type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type openaiClient struct {
	api     completionAPI
	guard   *Guardrails
	ledger  Ledger
	logger  zerolog.Logger
	models  []string
	timeout time.Duration
	backoff []int

	// Injected for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// NewOpenRouter builds the production client against an OpenAI-compatible
// endpoint. The model chain is the primary model followed by fallbacks.
func NewOpenRouter(env *config.Env, throttle config.LLMThrottle, guard *Guardrails, ledger Ledger, logger zerolog.Logger) Client {
	cc := openai.DefaultConfig(env.LLMAPIKey)
	cc.BaseURL = env.LLMBaseURL

	models := []string{env.LLMModel}
	for _, m := range env.LLMFallbackModels {
		if m != env.LLMModel {
			models = append(models, m)
		}
	}

	timeout := time.Duration(throttle.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 45 * time.Second
	}

	return &openaiClient{
		api:     openai.NewClientWithConfig(cc),
		guard:   guard,
		ledger:  ledger,
		logger:  logger,
		models:  models,
		timeout: timeout,
		backoff: throttle.BackoffOn429Seconds,
		sleep:   sleepCtx,
		jitter:  func() float64 { return 0.5 + rand.Float64() },
	}
}

func (c *openaiClient) BeginCycle() { c.guard.BeginCycle() }

func (c *openaiClient) BreakerState() string { return c.guard.BreakerState().String() }

// Analyze runs the guarded model chain for one item. On rate limiting it
// backs off and advances to the next model; billing errors disable the
// client for the rest of the cycle.
func (c *openaiClient) Analyze(ctx context.Context, in Input) Result {
	if code := c.guard.Admit(ctx); code != "" {
		return Result{Code: code}
	}

	prompt := buildPrompt(in)

	var (
		lastCode string
		lastRaw  string
	)

	for _, model := range c.models {
		for attempt := 0; attempt < attemptsPerModel; attempt++ {
			p := prompt
			if attempt > 0 {
				p += jsonRetryNote
			}

			verdict, raw, code := c.callModel(ctx, model, p, in.TraceID)
			if verdict != nil {
				c.guard.OnSuccess()

				return Result{Verdict: verdict, Raw: raw}
			}

			lastCode, lastRaw = code, raw

			if code != domain.CodeLLMInvalidJSON {
				break
			}

			c.logger.Warn().
				Str("trace_id", in.TraceID).
				Str("model", model).
				Int("attempt", attempt+1).
				Msg("invalid json, retrying")
		}

		switch lastCode {
		case domain.CodeLLMBillingLimit:
			c.guard.DisableForCycle(domain.CodeLLMBillingLimit)

			return Result{Code: domain.CodeLLMBillingLimit}

		case domain.CodeCircuitOpen:
			return Result{Code: domain.CodeCircuitOpen}

		case domain.CodeLLMRateLimit:
			streak, disabled := c.guard.On429()
			if disabled {
				return Result{Code: domain.CodeLLMRateLimit}
			}

			if err := c.backoffSleep(ctx, streak); err != nil {
				return Result{Code: domain.CodeLLMRateLimit}
			}
		}

		c.logger.Info().
			Str("trace_id", in.TraceID).
			Str("model", model).
			Str("reason", lastCode).
			Msg("switching to fallback model")
	}

	return Result{Raw: lastRaw, Code: lastCode}
}

// callModel runs one provider attempt through the breaker, records it in
// the ledger and parses the reply. The breaker counts transport errors and
// non-2xx statuses only; an unparsable 200 reply is reported as
// CodeLLMInvalidJSON without tripping it.
func (c *openaiClient) callModel(ctx context.Context, model, prompt, traceID string) (*domain.Verdict, string, string) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()

	out, err := c.guard.Do(func() (interface{}, error) {
		resp, err := c.api.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: requestTemperature,
			MaxTokens:   maxOutTokens,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("empty choices")
		}

		raw := resp.Choices[0].Message.Content

		verdict, perr := ParseVerdict(raw)
		if perr != nil {
			c.record(ctx, model, resp.Usage, latencyMS(start), http.StatusOK, "json_parse_error", traceID)

			return &parsed{raw: raw}, nil
		}

		c.record(ctx, model, resp.Usage, latencyMS(start), http.StatusOK, "", traceID)

		return &parsed{verdict: verdict, raw: raw}, nil
	})
	if err != nil {
		code, status, errType := classifyError(err)
		if code != domain.CodeCircuitOpen {
			c.record(ctx, model, openai.Usage{}, latencyMS(start), status, errType, traceID)
		}

		return nil, "", code
	}

	p := out.(*parsed)
	if p.verdict == nil {
		return nil, p.raw, domain.CodeLLMInvalidJSON
	}

	return p.verdict, p.raw, ""
}

type parsed struct {
	verdict *domain.Verdict
	raw     string
}

func (c *openaiClient) record(ctx context.Context, model string, usage openai.Usage, latencyMS, status int, errType, traceID string) {
	entry := &domain.LLMUsageEntry{
		Timestamp:        time.Now().UTC(),
		Provider:         providerName,
		Model:            model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalCost:        modelCost(model, usage.PromptTokens, usage.CompletionTokens),
		LatencyMS:        latencyMS,
		HTTPStatus:       status,
		ErrorType:        errType,
		Context:          traceID,
	}

	if err := c.ledger.RecordLLMUsage(ctx, entry); err != nil {
		c.logger.Warn().Err(err).Msg("failed to record llm usage")
	}
}

func (c *openaiClient) backoffSleep(ctx context.Context, streak int) error {
	if len(c.backoff) == 0 {
		return nil
	}

	idx := streak - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(c.backoff) {
		idx = len(c.backoff) - 1
	}

	d := time.Duration(float64(c.backoff[idx]) * c.jitter() * float64(time.Second))

	return c.sleep(ctx, d)
}

// modelCost estimates the attempt cost. Free-tier models cost nothing.
func modelCost(model string, promptTokens, completionTokens int) float64 {
	if strings.Contains(model, ":free") {
		return 0
	}

	return (float64(promptTokens)*promptTokenRate + float64(completionTokens)*completionTokenRate) / 1_000_000
}

func classifyError(err error) (code string, httpStatus int, errType string) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.CodeCircuitOpen, 0, ""
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return domain.CodeLLMRateLimit, apiErr.HTTPStatusCode, "rate_limit"
		case http.StatusPaymentRequired:
			return domain.CodeLLMBillingLimit, apiErr.HTTPStatusCode, "payment_required"
		}

		return domain.CodeLLMAPIError, apiErr.HTTPStatusCode, "http_error"
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return domain.CodeLLMRateLimit, reqErr.HTTPStatusCode, "rate_limit"
		case http.StatusPaymentRequired:
			return domain.CodeLLMBillingLimit, reqErr.HTTPStatusCode, "payment_required"
		}

		return domain.CodeLLMAPIError, reqErr.HTTPStatusCode, "http_error"
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.CodeLLMTimeout, http.StatusRequestTimeout, "timeout"
	}

	return domain.CodeLLMAPIError, 0, "exception"
}

func latencyMS(start time.Time) int {
	return int(time.Since(start).Milliseconds())
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
