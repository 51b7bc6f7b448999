// Package logutil holds helpers for writing client-supplied values into log
// lines.
package logutil

import (
	"strings"
	"unicode/utf8"
)

// maxLogValue bounds a single client-supplied value in a log line.
const maxLogValue = 256

// SanitizeForLog replaces line breaks and tabs with spaces and drops other
// control characters, so a hostile host or user name cannot forge log lines.
// Values longer than 256 bytes are cut and marked with "...".
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteByte(' ')
		case r < 32 || r == 0x7f:
			// dropped
		default:
			b.WriteRune(r)
		}
		if b.Len() > maxLogValue {
			break
		}
	}
	out := b.String()
	if len(out) > maxLogValue {
		cut := maxLogValue
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + "..."
	}
	return out
}
