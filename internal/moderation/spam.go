package moderation

import (
	"strings"
	"unicode"
)

const (
	spamMinLength        = 10
	spamRepeatCount      = 3
	spamRepeatShare      = 0.3
	spamSpecialCharShare = 0.2
)

// IsSpam flags repetition-heavy or symbol-heavy text. Text under 10
// characters is never spam. A single word (longer than 2 characters)
// occurring more than 3 times and making up over 30% of counted words is
// spam, as is text where over 20% of characters fall outside the usual
// review alphabet.
func (m *Moderator) IsSpam(text string) bool {
	if len(text) < spamMinLength {
		return false
	}

	counts := make(map[string]int)
	total := 0
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) <= 2 {
			continue
		}
		counts[w]++
		total++
	}
	if total > 0 {
		for _, c := range counts {
			if c > spamRepeatCount && float64(c)/float64(total) > spamRepeatShare {
				return true
			}
		}
	}

	special, runes := 0, 0
	for _, r := range text {
		runes++
		if !allowedChar(r) {
			special++
		}
	}
	return float64(special)/float64(runes) > spamSpecialCharShare
}

// allowedChar reports whether r belongs to [a-zA-Z0-9\s.,!?'-].
func allowedChar(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case unicode.IsSpace(r):
		return true
	}
	switch r {
	case '.', ',', '!', '?', '\'', '-':
		return true
	}
	return false
}
