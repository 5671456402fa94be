package domain

import "time"

// Status tracks a news item through the pipeline. An item transitions
// exactly once from StatusRaw to a terminal state.
type Status string

const (
	StatusRaw               Status = "raw"
	StatusDuplicate         Status = "duplicate"
	StatusFilteredOld       Status = "filtered_old"
	StatusFilteredResolved  Status = "filtered_resolved"
	StatusFilteredNoise     Status = "filtered_noise"
	StatusFiltered          Status = "filtered"
	StatusLLMFailed         Status = "llm_failed"
	StatusLLMSkipped        Status = "llm_skipped"
	StatusLLMPassed         Status = "llm_passed"
	StatusSent              Status = "sent"
	StatusSuppressedLimit   Status = "suppressed_limit"
	StatusSuppressedSimilar Status = "suppressed_similar"
)

// Terminal reports whether the status is final for the item.
func (s Status) Terminal() bool {
	return s != StatusRaw && s != StatusLLMPassed
}

// NewsItem is one ingested article.
type NewsItem struct {
	ID            int64
	Title         string
	Text          string
	Source        string
	URL           string
	URLNormalized string // unique across the table
	PublishedAt   *time.Time
	CollectedAt   time.Time
	Region        string
	Filter1Score  int
	Simhash       uint64
	// CanonicalID is set iff Status is StatusDuplicate and points to the
	// earlier-collected item this one duplicates.
	CanonicalID    *int64
	Status         Status
	LLMJSON        string
	LLMRawResponse string
	CreatedAt      time.Time
}

// RawItem is a fetched article before persistence.
type RawItem struct {
	SourceID    string
	SourceName  string
	URL         string
	Title       string
	RawHTML     string
	PublishedAt *time.Time
	RegionHint  string
}
