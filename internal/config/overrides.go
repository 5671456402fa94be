package config

import (
	"fmt"
	"sort"
	"strconv"
)

// overrideEntry binds one dotted override key to a typed parser and an
// applier mutating a config copy. Unknown keys are rejected at apply time
// instead of silently ignored.
type overrideEntry struct {
	parse func(string) (any, error)
	apply func(*App, any)
}

func intEntry(apply func(*App, int)) overrideEntry {
	return overrideEntry{
		parse: func(s string) (any, error) { return strconv.Atoi(s) },
		apply: func(c *App, v any) { apply(c, v.(int)) },
	}
}

func floatEntry(apply func(*App, float64)) overrideEntry {
	return overrideEntry{
		parse: func(s string) (any, error) { return strconv.ParseFloat(s, 64) },
		apply: func(c *App, v any) { apply(c, v.(float64)) },
	}
}

func boolEntry(apply func(*App, bool)) overrideEntry {
	return overrideEntry{
		parse: func(s string) (any, error) { return strconv.ParseBool(s) },
		apply: func(c *App, v any) { apply(c, v.(bool)) },
	}
}

var overrideRegistry = map[string]overrideEntry{
	"thresholds.filter1_to_llm": intEntry(func(c *App, v int) { c.Thresholds.Filter1ToLLM = v }),
	"thresholds.llm_relevance":  floatEntry(func(c *App, v float64) { c.Thresholds.LLMRelevance = v }),
	"thresholds.llm_urgency":    intEntry(func(c *App, v int) { c.Thresholds.LLMUrgency = v }),

	"limits.max_signals_per_day":  intEntry(func(c *App, v int) { c.Limits.MaxSignalsPerDay = v }),
	"limits.max_items_per_cycle":  intEntry(func(c *App, v int) { c.Limits.MaxItemsPerCycle = v }),
	"limits.similar_window_hours": intEntry(func(c *App, v int) { c.Limits.SimilarWindowHrs = v }),

	"dedup.simhash_threshold": intEntry(func(c *App, v int) { c.Dedup.SimhashThreshold = v }),

	"schedule.check_interval_minutes": intEntry(func(c *App, v int) { c.Schedule.CheckIntervalMinutes = v }),

	"freshness.max_age_days": intEntry(func(c *App, v int) { c.Freshness.MaxAgeDays = v }),

	"resolved_filter.enabled": boolEntry(func(c *App, v bool) { c.ResolvedFilter.Enabled = v }),
	"noise_filter.enabled":    boolEntry(func(c *App, v bool) { c.NoiseFilter.Enabled = v }),

	"filter1_gate.require_combo_to_llm":          boolEntry(func(c *App, v bool) { c.Filter1Gate.RequireComboToLLM = v }),
	"filter1_gate.strong_event_override_enabled": boolEntry(func(c *App, v bool) { c.Filter1Gate.StrongOverrideEnabled = v }),

	"llm_throttle.max_requests_per_cycle": intEntry(func(c *App, v int) { c.LLMThrottle.MaxRequestsPerCycle = v }),
	"llm_throttle.max_consecutive_429":    intEntry(func(c *App, v int) { c.LLMThrottle.MaxConsecutive429 = v }),

	"broadcast.messages_per_second": floatEntry(func(c *App, v float64) { c.Broadcast.MessagesPerSecond = v }),

	"weights.accident":       intEntry(func(c *App, v int) { c.Weights.Accident = v }),
	"weights.repair":         intEntry(func(c *App, v int) { c.Weights.Repair = v }),
	"weights.infrastructure": intEntry(func(c *App, v int) { c.Weights.Infrastructure = v }),
	"weights.industrial":     intEntry(func(c *App, v int) { c.Weights.Industrial = v }),
	"weights.negative":       intEntry(func(c *App, v int) { c.Weights.Negative = v }),
}

// OverridableKeys lists the registered override paths, sorted.
func OverridableKeys() []string {
	keys := make([]string, 0, len(overrideRegistry))
	for k := range overrideRegistry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateOverride checks a key/value pair against the registry without
// applying it.
func ValidateOverride(key, value string) error {
	entry, ok := overrideRegistry[key]
	if !ok {
		return fmt.Errorf("unknown override key %q", key)
	}
	if _, err := entry.parse(value); err != nil {
		return fmt.Errorf("override %s: %w", key, err)
	}
	return nil
}

// ApplyOverrides returns a copy of base with the given overrides applied.
// The base tree is never mutated; callers swap the whole object. Unknown
// keys and unparseable values are reported, valid entries still apply.
func ApplyOverrides(base *App, overrides map[string]string) (*App, []error) {
	cfg := *base
	var errs []error

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry, ok := overrideRegistry[key]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown override key %q", key))
			continue
		}
		v, err := entry.parse(overrides[key])
		if err != nil {
			errs = append(errs, fmt.Errorf("override %s: %w", key, err))
			continue
		}
		entry.apply(&cfg, v)
	}

	return &cfg, errs
}
