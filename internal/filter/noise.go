package filter

import (
	"strings"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// noiseScanLimit bounds how much of the article body the noise gate inspects
// alongside the title.
const noiseScanLimit = 800

// NoiseConfig holds the term lists for the noise gate.
type NoiseConfig struct {
	Enabled            bool
	HardNegativeTopics []string
	DomesticNoise      []string
	InfraExceptions    []string
}

// NoiseResult reports the gate decision.
type NoiseResult struct {
	Passed           bool
	Code             string
	MatchedTerms     []string
	ExceptionMatched bool
}

// CheckNoise rejects death/crime/domestic items. Noise terms are scanned in
// the title plus the first 800 characters of text; infrastructure exception
// phrases are scanned over the full text and let a matched item through.
func CheckNoise(title, text string, cfg NoiseConfig) NoiseResult {
	if !cfg.Enabled {
		return NoiseResult{Passed: true, Code: domain.CodeFilterDisabled}
	}

	full := strings.ToLower(title + " " + text)
	body := strings.ToLower(text)
	if runes := []rune(body); len(runes) > noiseScanLimit {
		body = string(runes[:noiseScanLimit])
	}
	window := strings.ToLower(title) + " " + body

	var matched []string
	for _, topic := range cfg.HardNegativeTopics {
		if strings.Contains(window, strings.ToLower(topic)) {
			matched = append(matched, topic)
		}
	}
	for _, noise := range cfg.DomesticNoise {
		if strings.Contains(window, strings.ToLower(noise)) {
			matched = append(matched, noise)
		}
	}

	if len(matched) == 0 {
		return NoiseResult{Passed: true, Code: domain.CodeApproved}
	}

	for _, phrase := range cfg.InfraExceptions {
		if strings.Contains(full, strings.ToLower(phrase)) {
			return NoiseResult{
				Passed:           true,
				Code:             domain.CodePassedWithException,
				MatchedTerms:     matched,
				ExceptionMatched: true,
			}
		}
	}

	return NoiseResult{Passed: false, Code: domain.CodeNoiseHardTopic, MatchedTerms: matched}
}
