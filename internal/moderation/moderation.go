// Package moderation classifies free text against a curated block-list with
// context-sensitive exceptions, and detects repetition-based spam.
//
// The block-list is compiled once at construction into an immutable table of
// (word, leet-tolerant matcher, whitelist matcher); classification itself is
// read-only and safe for concurrent use.
package moderation

import (
	"regexp"
	"strings"
)

// Result is the outcome of a profanity check. FoundWords is nil when clean;
// phrase matches are recorded as "phrase: <phrase>".
type Result struct {
	HasProfanity bool     `json:"hasProfanity"`
	FoundWords   []string `json:"foundWords,omitempty"`
}

// entry is one compiled block-list row.
type entry struct {
	word string
	// wholeWord matches the word (leet-tolerant) with word boundaries,
	// tested against the normalized text.
	wholeWord *regexp.Regexp
	// substring matches the word anywhere, tested case-insensitively against
	// the original text to catch substitutions that break word boundaries.
	substring *regexp.Regexp
	// whitelist matches any containing-word that makes the hit acceptable,
	// tested against the normalized text. Nil when the word has no
	// exceptions.
	whitelist *regexp.Regexp
}

// Moderator holds the compiled moderation tables. All state is read-only
// after construction.
type Moderator struct {
	entries []entry
	phrases []string
}

// New compiles the default block-list and phrase table.
func New() *Moderator {
	return NewWithTables(defaultBlocklist, defaultPhrases)
}

// NewWithTables compiles a custom table. Used by tests and by deployments
// that maintain their own lists.
func NewWithTables(words []blockedWord, phrases []string) *Moderator {
	m := &Moderator{
		entries: make([]entry, 0, len(words)),
		phrases: make([]string, 0, len(phrases)),
	}
	for _, w := range words {
		pattern := leetPattern(w.word)
		e := entry{
			word:      w.word,
			wholeWord: regexp.MustCompile(`\b` + pattern + `\b`),
			substring: regexp.MustCompile(`(?i)` + pattern),
		}
		if len(w.whitelist) > 0 {
			quoted := make([]string, len(w.whitelist))
			for i, ww := range w.whitelist {
				quoted[i] = regexp.QuoteMeta(ww)
			}
			e.whitelist = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		}
		m.entries = append(m.entries, e)
	}
	for _, p := range phrases {
		m.phrases = append(m.phrases, normalize(p))
	}
	return m
}

// CheckProfanity classifies text against the block-list and phrase table.
func (m *Moderator) CheckProfanity(text string) Result {
	if text == "" {
		return Result{}
	}

	normalized := normalize(text)

	var found []string
	for _, e := range m.entries {
		if !e.wholeWord.MatchString(normalized) && !e.substring.MatchString(text) {
			continue
		}
		if e.whitelist != nil && e.whitelist.MatchString(normalized) {
			continue
		}
		found = append(found, e.word)
	}

	for _, p := range m.phrases {
		if strings.Contains(normalized, p) {
			found = append(found, "phrase: "+p)
		}
	}

	return Result{HasProfanity: len(found) > 0, FoundWords: found}
}

// MaskProfanity replaces each matched span with asterisks of equal length.
// Whitelisted context is respected the same way CheckProfanity does.
func (m *Moderator) MaskProfanity(text string) string {
	if text == "" {
		return text
	}

	normalized := normalize(text)
	out := text
	for _, e := range m.entries {
		if e.whitelist != nil && e.whitelist.MatchString(normalized) {
			continue
		}
		out = e.substring.ReplaceAllStringFunc(out, stars)
	}
	for _, p := range m.phrases {
		re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
		out = re.ReplaceAllStringFunc(out, stars)
	}
	return out
}

func stars(match string) string {
	return strings.Repeat("*", len(match))
}

// normalize lowercases, replaces non-alphanumeric runes with spaces, and
// collapses whitespace. Whitelist exceptions are checked against this form;
// checking the punctuated original instead silently breaks them.
func normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// leetPattern builds a character-class pattern for a block-list word, so
// common substitutions ("@" for "a", "3" for "e") still match.
func leetPattern(word string) string {
	var b strings.Builder
	for _, r := range word {
		if class, ok := leetClasses[r]; ok {
			b.WriteString(class)
			continue
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	return b.String()
}
