package validators

import "strings"

// SanitizeString normalizes free-text request fields (transition notes,
// issue reasons, recipient names) by trimming whitespace and capping the
// length. Truncation counts runes so multibyte names are not split.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 {
		return trimmed
	}
	runes := []rune(trimmed)
	if len(runes) > maxLen {
		return string(runes[:maxLen])
	}
	return trimmed
}
