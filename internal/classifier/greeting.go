// Package classifier maps free-text messages to routing domains.
//
// Classification is a pure function of the input text: layered deterministic
// rules (greeting detection, temporal patterns, weighted keywords) with a
// confidence-scored ambiguity fallback. No I/O, no randomness.
package classifier

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// minContentLength is the minimum number of characters the remainder of a
// greeting message must have to be treated as an actual query.
const minContentLength = 10

// greetingPatterns matches common Rioplatense Spanish greetings, including
// informal variants and typos seen in real traffic.
var greetingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bhola+\b`),
	regexp.MustCompile(`\bholi+\b`),
	regexp.MustCompile(`\bbuenas+\b`),
	regexp.MustCompile(`\bbuen\s+d[ií]a+\b`),
	regexp.MustCompile(`\bbuenos+\s+d[ií]as+\b`),
	regexp.MustCompile(`\bbuenas+\s+tardes+\b`),
	regexp.MustCompile(`\bbuenas+\s+noches+\b`),
	regexp.MustCompile(`\bqu[eé]+\s+tal+\b`),
	regexp.MustCompile(`\bc[oó]mo\s+(and[aá]s|est[aá]s|va)\b`),
	regexp.MustCompile(`\btodo\s+bien\b`),
	regexp.MustCompile(`\bche\b`),
	regexp.MustCompile(`\bhey+\b`),
	regexp.MustCompile(`\bhi+\b`),
	regexp.MustCompile(`\bsaludos+\b`),
}

// greetingEmojis are treated the same as a textual greeting.
var greetingEmojis = []string{"👋", "🙋", "✋", "🖐️", "👏", "🙌"}

// IsGreeting reports whether the message contains a greeting.
func IsGreeting(message string) bool {
	if message == "" {
		return false
	}
	lower := strings.ToLower(strings.TrimSpace(message))
	for _, p := range greetingPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	for _, e := range greetingEmojis {
		if strings.Contains(message, e) {
			return true
		}
	}
	return false
}

// StripGreeting removes every greeting match (patterns and emojis) from the
// message and returns the trimmed remainder.
func StripGreeting(message string) string {
	rest := strings.ToLower(strings.TrimSpace(message))
	for _, p := range greetingPatterns {
		rest = p.ReplaceAllString(rest, "")
	}
	for _, e := range greetingEmojis {
		rest = strings.ReplaceAll(rest, e, "")
	}
	// Collapse leftover punctuation and whitespace around the removed greeting.
	rest = strings.Trim(rest, " \t\n,.;:!¡¿?-")
	return strings.TrimSpace(rest)
}

// HasContentBeyondGreeting reports whether the message carries a query beyond
// the greeting itself. Short leftovers (punctuation, emoji fragments) do not
// count as content.
func HasContentBeyondGreeting(message string) bool {
	if !IsGreeting(message) {
		return strings.TrimSpace(message) != ""
	}
	return utf8.RuneCountInString(StripGreeting(message)) >= minContentLength
}
