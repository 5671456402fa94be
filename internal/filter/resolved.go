package filter

import (
	"strings"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// resolvedScanLimit bounds how much of the combined text the resolved gate
// inspects.
const resolvedScanLimit = 1500

// ResolvedConfig holds the phrase lists for the resolved gate.
type ResolvedConfig struct {
	Enabled             bool
	HardResolvedPhrases []string
	SoftResolvedWords   []string
	OngoingWords        []string
}

// ResolvedResult reports the gate decision.
type ResolvedResult struct {
	Passed          bool
	Code            string
	MatchedPhrases  []string
	OngoingDetected bool
}

// CheckResolved rejects items describing an already-fixed event. Resolved
// markers only block when no ongoing marker is present in the same window.
// All matches are case-insensitive substring matches over the first 1500
// characters of title plus text.
func CheckResolved(title, text string, cfg ResolvedConfig) ResolvedResult {
	if !cfg.Enabled {
		return ResolvedResult{Passed: true, Code: domain.CodeFilterDisabled}
	}

	combined := strings.ToLower(title + " " + text)
	window := combined
	if runes := []rune(window); len(runes) > resolvedScanLimit {
		window = string(runes[:resolvedScanLimit])
	}

	ongoing := false
	for _, w := range cfg.OngoingWords {
		if strings.Contains(window, strings.ToLower(w)) {
			ongoing = true
			break
		}
	}

	var matched []string
	for _, p := range cfg.HardResolvedPhrases {
		if strings.Contains(window, strings.ToLower(p)) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		for _, w := range cfg.SoftResolvedWords {
			if strings.Contains(window, strings.ToLower(w)) {
				matched = append(matched, w)
			}
		}
	}

	if len(matched) > 0 && !ongoing {
		return ResolvedResult{Passed: false, Code: domain.CodeResolvedEvent, MatchedPhrases: matched}
	}
	return ResolvedResult{Passed: true, Code: domain.CodeApproved, MatchedPhrases: matched, OngoingDetected: ongoing}
}
