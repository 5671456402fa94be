package filter

import (
	"strings"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// Keywords groups positive terms by category plus a flat negative list.
type Keywords struct {
	Positive map[string][]string
	Negative []string
}

// Weights assigns an integer weight per positive category and one shared
// negative weight.
type Weights struct {
	Categories map[string]int
	Negative   int
}

// ComboRule requires matched categories to include at least one event kind
// and one object kind before an item may reach the LLM. Strong phrases
// bypass a failed combo.
type ComboRule struct {
	Required         bool
	EventCategories  []string
	ObjectCategories []string
	StrongOverride   bool
	StrongPhrases    []string
}

// ScoreResult carries the keyword score and match details.
type ScoreResult struct {
	Score             int
	PositiveMatches   []string
	NegativeMatches   []string
	CategoriesMatched []string
	Passed            bool
}

// KeywordFilter is the weighted keyword scoring stage.
type KeywordFilter struct {
	keywords  Keywords
	weights   Weights
	threshold int
}

// NewKeywordFilter builds the scorer. Items scoring below threshold never
// reach the LLM.
func NewKeywordFilter(keywords Keywords, weights Weights, threshold int) *KeywordFilter {
	return &KeywordFilter{keywords: keywords, weights: weights, threshold: threshold}
}

// Score computes the weighted score of text. Each positive category counts
// its weight once no matter how many of its keywords match; every matched
// negative keyword adds the negative weight.
func (f *KeywordFilter) Score(text string) ScoreResult {
	if text == "" {
		return ScoreResult{}
	}

	lower := strings.ToLower(text)
	var res ScoreResult

	for _, kw := range f.keywords.Negative {
		if strings.Contains(lower, strings.ToLower(kw)) {
			res.Score += f.weights.Negative
			res.NegativeMatches = append(res.NegativeMatches, kw)
		}
	}

	for category, kws := range f.keywords.Positive {
		weight := f.weights.Categories[category]
		matched := false
		for _, kw := range kws {
			if strings.Contains(lower, strings.ToLower(kw)) {
				if !matched {
					res.Score += weight
					matched = true
					res.CategoriesMatched = append(res.CategoriesMatched, category)
				}
				res.PositiveMatches = append(res.PositiveMatches, kw)
			}
		}
	}

	res.Passed = res.Score >= f.threshold
	return res
}

// ShouldSendToLLM applies the base threshold and the combo gate to decide
// whether the item advances to classification. The returned code explains
// the decision.
func (f *KeywordFilter) ShouldSendToLLM(title, text string, combo ComboRule) (bool, ScoreResult, string) {
	combined := title + " " + text
	res := f.Score(combined)

	if !res.Passed {
		return false, res, domain.CodeFilter1BelowThreshold
	}

	if combo.Required && len(combo.EventCategories) > 0 && len(combo.ObjectCategories) > 0 {
		hasEvent := containsAny(res.CategoriesMatched, combo.EventCategories)
		hasObject := containsAny(res.CategoriesMatched, combo.ObjectCategories)

		if !hasEvent || !hasObject {
			if combo.StrongOverride {
				lower := strings.ToLower(combined)
				for _, phrase := range combo.StrongPhrases {
					if strings.Contains(lower, strings.ToLower(phrase)) {
						return true, res, domain.CodeStrongOverride
					}
				}
			}
			res.Passed = false
			return false, res, domain.CodeComboRuleFailed
		}
	}

	return true, res, domain.CodeFilter1Passed
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
