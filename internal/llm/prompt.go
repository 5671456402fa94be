package llm

import (
	"fmt"
	"unicode/utf8"
)

const systemPrompt = "Ты анализируешь новости. Отвечай ТОЛЬКО валидным JSON."

// Appended to the user prompt on the second attempt after invalid JSON.
const jsonRetryNote = "\n\nSYSTEM_NOTE: Previous response was invalid JSON. RETURN ONLY RAW JSON. NO MARKDOWN."

const maxPromptTextRunes = 1500

const promptTemplate = `Проанализируй новость.
ВХОД:
Заголовок: %s
Источник: %s
Регион: %s
Текст: %s

ЗАДАЧА:
Определи, является ли это ТЕКУЩЕЙ ТЕХНОГЕННОЙ АВАРИЕЙ в ЖКХ или Промышленности.

ИГНОРИРУЙ (relevance=0):
- Плановые работы, отключения, учения
- ДТП, пожары в жилых домах (бытовые)
- Завершенные события ("авария устранена")
- Криминал, политика, коррупция
- Природные явления (без разрушения инфраструктуры)

ВЫХОД (JSON):
{
  "event_type": "accident | outage | repair | other",
  "relevance": 0.0-1.0 (0.8+ для серьезных аварий),
  "urgency": 1-5,
  "object": "water | heat | industrial | unknown",
  "why": "Причина решения",
  "action": "call | watch | ignore"
}`

func buildPrompt(in Input) string {
	region := in.Region
	if region == "" {
		region = "не определён"
	}

	text := in.Text
	if utf8.RuneCountInString(text) > maxPromptTextRunes {
		text = string([]rune(text)[:maxPromptTextRunes])
	}

	return fmt.Sprintf(promptTemplate, in.Title, in.Source, region, text)
}
