// Package sanitize cleans free-text input and strips sensitive values from
// log payloads.
//
// Every function here is total: malformed input degrades to an empty or
// best-effort string, never an error. Callers can rely on that when wiring
// sanitization into hot paths.
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
)

// DefaultMaxLength caps sanitized text when no explicit limit is given.
const DefaultMaxLength = 10000

// RedactionToken replaces sensitive values in log payloads.
const RedactionToken = "[REDACTED]"

// maxLogDepth bounds recursion in ForLogging. Payloads are JSON-like and
// acyclic; anything deeper than this is truncated to the token.
const maxLogDepth = 16

var (
	// dangerousChars are stripped from all text inputs.
	dangerousChars = regexp.MustCompile(`[<>'";&\\]`)

	// whitespaceRun collapses runs of whitespace to a single space.
	whitespaceRun = regexp.MustCompile(`\s+`)

	// phoneAllowed keeps digits, spaces, hyphens, plus, and parentheses.
	phoneDisallowed = regexp.MustCompile(`[^0-9\s\-+()]`)

	// sensitivePatterns match values that must never reach logs.
	sensitivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`), // card number
		regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`),                    // SSN
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	}

	// sensitiveKeys flag map keys whose values are redacted wholesale.
	sensitiveKeys = []string{"password", "token", "secret", "key", "auth"}
)

// Masker masks profane spans in text. Implemented by moderation.Moderator.
type Masker interface {
	MaskProfanity(text string) string
}

// TextOptions control Sanitizer.Text.
type TextOptions struct {
	// RemoveProfanity masks block-listed words with asterisks. Requires the
	// Sanitizer to have been constructed with a Masker; ignored otherwise.
	RemoveProfanity bool
	// MaxLength overrides DefaultMaxLength when > 0.
	MaxLength int
}

// Sanitizer cleans user-supplied text. The zero value works without
// profanity masking.
type Sanitizer struct {
	masker Masker
}

// New creates a Sanitizer. Pass a Masker to enable profanity masking.
func New(masker Masker) *Sanitizer {
	return &Sanitizer{masker: masker}
}

// Text sanitizes free text: removes null bytes, truncates, strips dangerous
// characters, optionally masks profanity, and collapses whitespace.
// Idempotent: running it on its own output returns the same string.
func (s *Sanitizer) Text(input string, opts TextOptions) string {
	out := strings.ReplaceAll(input, "\x00", "")

	maxLen := opts.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}

	out = dangerousChars.ReplaceAllString(out, "")

	if opts.RemoveProfanity && s.masker != nil {
		out = s.masker.MaskProfanity(out)
	}

	return strings.TrimSpace(whitespaceRun.ReplaceAllString(out, " "))
}

// Email lowercases, trims, and strips dangerous characters. Format
// validation lives in the validation package.
func Email(email string) string {
	sanitized := strings.ToLower(strings.TrimSpace(email))
	return dangerousChars.ReplaceAllString(sanitized, "")
}

// Phone keeps only digits, spaces, hyphens, plus, and parentheses.
func Phone(phone string) string {
	return strings.TrimSpace(phoneDisallowed.ReplaceAllString(phone, ""))
}

// URL returns the canonicalized URL, or "" unless the scheme is http or
// https.
func URL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// ForLogging recursively strips sensitive data from a JSON-like value.
// Strings have card-number, SSN, and email substrings replaced with
// RedactionToken. Map values under sensitive key names are replaced
// entirely, regardless of type. The input is never mutated.
func ForLogging(v any) any {
	return forLogging(v, 0)
}

func forLogging(v any, depth int) any {
	if depth > maxLogDepth {
		return RedactionToken
	}

	switch val := v.(type) {
	case string:
		out := val
		for _, p := range sensitivePatterns {
			out = p.ReplaceAllString(out, RedactionToken)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = RedactionToken
				continue
			}
			out[k] = forLogging(inner, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveKey(k) {
				out[k] = RedactionToken
				continue
			}
			out[k] = forLogging(inner, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = forLogging(inner, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = forLogging(inner, depth+1)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
