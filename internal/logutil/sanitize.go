package logutil

import "strings"

// SanitizeForLog strips newlines and other control characters from
// user-supplied strings (hostnames, usernames, tab titles) before they are
// written to the log, so a crafted value cannot forge log entries.
func SanitizeForLog(s string) string {
	if !strings.ContainsFunc(s, func(r rune) bool { return r < 32 }) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32:
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
