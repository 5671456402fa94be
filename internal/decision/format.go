package decision

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/infrawatch/signal-bot/internal/domain"
)

const (
	maxEssenceRunes = 200
	maxWhyRunes     = 300

	regionUnknown = "не определён"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// FormatSignalMessage assembles the strict six-line plain-text signal:
// banner, region, sphere, essence, reasoning, source URL. No markup, no
// extra lines.
func FormatSignalMessage(v *domain.Verdict, region, title, url string) string {
	eventRU, ok := domain.EventTypeRU[v.EventType]
	if !ok {
		eventRU = v.EventType
	}

	if region == "" {
		region = regionUnknown
	}

	return fmt.Sprintf(
		"🚨 СИГНАЛ | %s | %d/5\nРегион: %s\nСфера: %s\nСуть: %s\nПочему важно: %s\nИсточник: %s",
		eventRU,
		v.Urgency,
		region,
		domain.Sphere(v.Object),
		truncateField(title, maxEssenceRunes),
		truncateField(v.Why, maxWhyRunes),
		url,
	)
}

// truncateField collapses whitespace runs and cuts to the rune budget
// with an ellipsis.
func truncateField(text string, max int) string {
	text = strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))

	if utf8.RuneCountInString(text) <= max {
		return text
	}

	runes := []rune(text)

	return string(runes[:max-3]) + "..."
}
