package session

import (
	"time"
	"unicode/utf8"
)

// State is the observable state of one listening session.
type State struct {
	// Active is true while the session is listening.
	Active bool

	// ChantElapsed counts whole seconds since the last reminder of any
	// kind. It is reset to 0 by every reminder and by Stop, and otherwise
	// only grows by one per tick.
	ChantElapsed int

	// LastValidUtteranceAt is when a matching fragment was last heard, or
	// when the silence window was last restarted.
	LastValidUtteranceAt time.Time

	// LastMismatchReminderAt is when the last mismatch reminder fired. The
	// zero value means no mismatch cooldown is in effect.
	LastMismatchReminderAt time.Time

	// LiveFinalText is the rolling transcript of final fragments.
	LiveFinalText string

	// LiveInterimText is the most recent unconfirmed fragment.
	LiveInterimText string
}

// appendBounded appends add to text, separated by a space, and keeps at
// most limit characters by dropping whole runes from the front.
func appendBounded(text, add string, limit int) string {
	if add == "" {
		return text
	}
	if text != "" {
		text += " "
	}
	text += add

	excess := utf8.RuneCountInString(text) - limit
	if excess <= 0 {
		return text
	}
	cut := 0
	for ; excess > 0; excess-- {
		_, size := utf8.DecodeRuneInString(text[cut:])
		cut += size
	}
	return text[cut:]
}
