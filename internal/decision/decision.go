// Package decision makes the final call on one classified item and
// formats the outgoing signal text.
package decision

import (
	"github.com/infrawatch/signal-bot/internal/domain"
)

// Input is everything the final decision depends on.
type Input struct {
	Filter1Passed bool
	Filter1Code   string
	Verdict       *domain.Verdict
	SignalsToday  int
}

// Thresholds tune the decision.
type Thresholds struct {
	Relevance        float64
	Urgency          int
	MaxSignalsPerDay int
}

// Outcome carries the decision code and the terminal news status it maps
// to. Approved items still pass through similarity suppression and the
// atomic daily-limit insert before becoming signals.
type Outcome struct {
	Approved bool
	Code     string
	Status   domain.Status
}

// Decide applies the checks in fixed order: keyword filter, LLM presence,
// relevance, urgency, recommended action, daily limit.
func Decide(in Input, t Thresholds) Outcome {
	if !in.Filter1Passed {
		return Outcome{Code: in.Filter1Code, Status: domain.StatusFiltered}
	}

	if in.Verdict == nil {
		return Outcome{Code: domain.CodeLLMFailed, Status: domain.StatusLLMFailed}
	}

	if in.Verdict.Relevance < t.Relevance {
		return Outcome{Code: domain.CodeLowRelevance, Status: domain.StatusFiltered}
	}

	if in.Verdict.Urgency < t.Urgency {
		return Outcome{Code: domain.CodeLowUrgency, Status: domain.StatusFiltered}
	}

	if in.Verdict.Action == domain.ActionIgnore {
		return Outcome{Code: domain.CodeLLMActionIgnore, Status: domain.StatusFiltered}
	}

	if in.SignalsToday >= t.MaxSignalsPerDay {
		return Outcome{Code: domain.CodeSuppressedLimit, Status: domain.StatusSuppressedLimit}
	}

	return Outcome{Approved: true, Code: domain.CodeApproved, Status: domain.StatusSent}
}
