package broadcast

import (
	"errors"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// SendErrorKind classifies a per-recipient delivery failure.
type SendErrorKind int

const (
	// SendErrOther covers transient or unknown failures. The recipient
	// stays active.
	SendErrOther SendErrorKind = iota
	// SendErrForbidden means the recipient blocked the bot.
	SendErrForbidden
	// SendErrNotFound means the chat no longer exists.
	SendErrNotFound
	// SendErrFloodWait means the API asked to slow down.
	SendErrFloodWait
)

// classifySendError maps an API error to its kind. For flood waits the
// requested pause is returned.
func classifySendError(err error) (SendErrorKind, time.Duration) {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return SendErrOther, 0
	}

	switch apiErr.Code {
	case 403:
		return SendErrForbidden, 0
	case 400:
		if strings.Contains(strings.ToLower(apiErr.Message), "chat not found") {
			return SendErrNotFound, 0
		}

		return SendErrOther, 0
	case 429:
		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}

		return SendErrFloodWait, wait
	}

	return SendErrOther, 0
}
