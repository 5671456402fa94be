package domain

import "time"

// Subscriber is a delivery target. No personal identifiers are stored,
// only the chat id, subscription state and timestamps.
type Subscriber struct {
	ChatID     int64
	CreatedAt  time.Time
	IsActive   bool
	LastSeenAt *time.Time
}

// ProcessingLock is a cross-instance lock row with expiry.
type ProcessingLock struct {
	Name       string
	AcquiredAt time.Time
	ExpiresAt  time.Time
	HolderID   string
}

// SourceHealth tracks fetch outcomes per source for auto-disable.
type SourceHealth struct {
	SourceID            string
	ConsecutiveFailures int
	TotalFetches        int
	TotalFailures       int
	LastOKAt            *time.Time
	LastErrorAt         *time.Time
	LastStatusCode      int
	LastErrorMessage    string
	IsDisabled          bool
	DisabledAt          *time.Time
	DisabledReason      string
}

// LLMUsageEntry is one append-only ledger row per LLM attempt.
type LLMUsageEntry struct {
	ID               int64
	Timestamp        time.Time
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalCost        float64
	LatencyMS        int
	HTTPStatus       int
	ErrorType        string
	Context          string
}

// ConfigOverride is one DB-stored override of a config field, keyed by a
// dotted path into the config tree.
type ConfigOverride struct {
	Key       string
	Value     string
	UpdatedAt time.Time
	UpdatedBy int64
}

// ConfigAuditEntry records one override change.
type ConfigAuditEntry struct {
	ID        int64
	Timestamp time.Time
	UserID    int64
	Action    string // set, reset, rollback
	Key       string
	OldValue  string
	NewValue  string
	Source    string // command, system
}

// WatchlistItem keeps a borderline news item for later review.
type WatchlistItem struct {
	ID        int64
	NewsID    int64
	CreatedAt time.Time
	Reason    string
	Score     float64
}
