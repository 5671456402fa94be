// Package filter implements the pre-LLM filter funnel: freshness gate,
// resolved gate, noise gate, weighted keyword scoring and region detection.
package filter

import (
	"time"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// FreshnessConfig controls the freshness gate.
type FreshnessConfig struct {
	MaxAgeDays            int
	AllowMissingPublished bool
	FallbackToCollected   bool
}

// FreshnessResult reports the gate decision and the computed item age.
type FreshnessResult struct {
	Passed  bool
	Code    string
	AgeDays float64
}

// CheckFreshness rejects items older than the configured age. published may
// be nil; depending on the config the item then falls back to the collection
// time or is rejected outright. Comparison uses naive UTC, timezone offsets
// are discarded first.
func CheckFreshness(published *time.Time, collected time.Time, cfg FreshnessConfig, now time.Time) FreshnessResult {
	maxAge := time.Duration(cfg.MaxAgeDays) * 24 * time.Hour

	var checkDate time.Time
	switch {
	case published != nil:
		checkDate = stripZone(*published)
	case cfg.AllowMissingPublished && cfg.FallbackToCollected:
		checkDate = stripZone(collected)
	case !cfg.AllowMissingPublished:
		return FreshnessResult{Passed: false, Code: domain.CodeMissingPublishedAt}
	default:
		return FreshnessResult{Passed: true, Code: domain.CodeApproved}
	}

	age := stripZone(now).Sub(checkDate)
	ageDays := age.Hours() / 24

	if age > maxAge {
		return FreshnessResult{Passed: false, Code: domain.CodeStaleNews, AgeDays: ageDays}
	}
	return FreshnessResult{Passed: true, Code: domain.CodeApproved, AgeDays: ageDays}
}

// stripZone reinterprets the wall-clock reading in UTC. Feed dates arrive
// zone-aware while the pipeline clock is naive UTC.
func stripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
