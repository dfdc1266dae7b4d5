package util

import "unicode/utf8"

// DefaultPreviewLimit bounds the number of characters of a payload or error
// message included in a log line.
const DefaultPreviewLimit = 256

// Truncate trims s to at most limit runes. A zero or negative limit returns
// an empty string.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
