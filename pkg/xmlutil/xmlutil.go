// Package xmlutil builds XML-delimited prompt sections from untrusted text.
package xmlutil

import (
	"encoding/xml"
	"strings"
	"unicode/utf8"
)

// Escape escapes s for use as XML character data. Invalid UTF-8 is replaced
// with U+FFFD so the result is always well formed.
func Escape(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	var buf strings.Builder
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Element renders <tag>s</tag> with s cut to maxRunes runes (0 = no limit)
// before escaping, so a truncated entity can never leak into the output.
func Element(tag, s string, maxRunes int) string {
	if maxRunes > 0 && utf8.RuneCountInString(s) > maxRunes {
		s = string([]rune(s)[:maxRunes])
	}
	return "<" + tag + ">" + Escape(s) + "</" + tag + ">"
}
