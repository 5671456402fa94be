package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/infrawatch/signal-bot/internal/domain"
)

// ParseVerdict decodes a model reply into a verdict, tolerating fenced
// code blocks around the JSON. Out-of-range or unknown enum values are
// rejected rather than clamped.
func ParseVerdict(content string) (*domain.Verdict, error) {
	content = stripFences(content)

	var v domain.Verdict
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}

	if err := validateVerdict(&v); err != nil {
		return nil, err
	}

	return &v, nil
}

func stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}

	return strings.TrimSpace(s)
}

func validateVerdict(v *domain.Verdict) error {
	switch v.EventType {
	case domain.EventAccident, domain.EventOutage, domain.EventRepair, domain.EventOther:
	default:
		return fmt.Errorf("unknown event_type %q", v.EventType)
	}

	if v.Relevance < 0 || v.Relevance > 1 {
		return fmt.Errorf("relevance %v out of range", v.Relevance)
	}

	if v.Urgency < 1 || v.Urgency > 5 {
		return fmt.Errorf("urgency %d out of range", v.Urgency)
	}

	switch v.Object {
	case domain.ObjectWater, domain.ObjectHeat, domain.ObjectIndustrial, domain.ObjectUnknown:
	default:
		return fmt.Errorf("unknown object %q", v.Object)
	}

	switch v.Action {
	case domain.ActionCall, domain.ActionWatch, domain.ActionIgnore:
	default:
		return fmt.Errorf("unknown action %q", v.Action)
	}

	return nil
}
