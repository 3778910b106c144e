package util

import (
	"strings"
	"unicode"
)

// Slugify lowercases s and collapses anything that is not a letter or digit
// into single hyphens. Returns "untitled" when nothing survives.
func Slugify(s string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "untitled"
	}
	if len(out) > 120 {
		out = strings.Trim(out[:120], "-")
	}
	return out
}
