package domain

// Decision codes emitted by pipeline stages. Every accept or reject carries
// one of these for the cycle summary and logs.
const (
	CodeApproved = "APPROVED"

	// Freshness gate.
	CodeStaleNews          = "STALE_NEWS"
	CodeMissingPublishedAt = "MISSING_PUBLISHED_AT"

	// Dedup.
	CodeDuplicateURL     = "DUPLICATE_URL"
	CodeDuplicateSimhash = "DUPLICATE_SIMHASH"

	// Resolved and noise gates.
	CodeResolvedEvent       = "RESOLVED_EVENT"
	CodeNoiseHardTopic      = "NOISE_HARD_TOPIC"
	CodePassedWithException = "PASSED_WITH_EXCEPTION"
	CodeFilterDisabled      = "FILTER_DISABLED"

	// Keyword scorer.
	CodeFilter1BelowThreshold = "FILTER1_BELOW_THRESHOLD"
	CodeComboRuleFailed       = "COMBO_RULE_FAILED"
	CodeStrongOverride        = "STRONG_OVERRIDE"
	CodeFilter1Passed         = "FILTER1_PASSED"

	// LLM client.
	CodeLLMRateLimit    = "LLM_RATE_LIMIT"
	CodeLLMBillingLimit = "LLM_BILLING_LIMIT"
	CodeLLMInvalidJSON  = "LLM_INVALID_JSON"
	CodeLLMTimeout      = "LLM_TIMEOUT"
	CodeLLMAPIError     = "LLM_API_ERROR"
	CodeCircuitOpen     = "CIRCUIT_OPEN"
	CodeBudgetExceeded  = "BUDGET_EXCEEDED"
	CodeThrottled       = "THROTTLED"

	// Decision engine.
	CodeLLMFailed         = "LLM_FAILED"
	CodeLowRelevance      = "LOW_RELEVANCE"
	CodeLowUrgency        = "LOW_URGENCY"
	CodeLLMActionIgnore   = "LLM_ACTION_IGNORE"
	CodeSuppressedLimit   = "SUPPRESSED_LIMIT"
	CodeSuppressedSimilar = "SUPPRESSED_SIMILAR"
)
