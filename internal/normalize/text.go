package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
}

var sentenceSplit = regexp.MustCompile(`(?s)([.!?])\s+`)

// CleanHTML strips markup from an HTML fragment: script, style and noscript
// subtrees are dropped entirely, entities are decoded, whitespace runs are
// collapsed to single spaces. The output is NFC-normalized. Input that fails
// to tokenize is returned unchanged.
func CleanHTML(fragment string) string {
	if fragment == "" {
		return ""
	}

	tok := html.NewTokenizer(strings.NewReader(fragment))
	var sb strings.Builder
	skipDepth := 0

	for {
		tt := tok.Next()
		switch tt {
		case html.ErrorToken:
			return collapseWhitespace(norm.NFC.String(sb.String()))
		case html.StartTagToken:
			name, _ := tok.TagName()
			if skippedElements[string(name)] {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			if skippedElements[string(name)] && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tok.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

// ExtractSentences returns the first maxSentences sentences longer than 10
// characters, joined by single spaces and capped at maxChars runes. It bounds
// LLM prompt size without a summarization call.
func ExtractSentences(text string, maxSentences, maxChars int) string {
	if text == "" {
		return ""
	}

	parts := sentenceSplit.Split(text, -1)
	marks := sentenceSplit.FindAllStringSubmatch(text, -1)

	var kept []string
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if len([]rune(p)) <= 10 {
			continue
		}
		if i < len(marks) && !strings.ContainsAny(p[len(p)-1:], ".!?") {
			p += marks[i][1]
		}
		kept = append(kept, p)
		if len(kept) >= maxSentences {
			break
		}
	}

	return Truncate(strings.Join(kept, " "), maxChars)
}

// Truncate limits text to max runes, appending an ellipsis when cut.
func Truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
