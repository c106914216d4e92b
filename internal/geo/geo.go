// Package geo resolves free-form Canadian location strings to province and territory codes.
package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// provinces maps every accepted spelling, lowercased and accent-folded, to its
// two-letter code.
var provinces = map[string]string{
	"ab": "AB", "alberta": "AB",
	"bc": "BC", "british columbia": "BC", "colombie-britannique": "BC",
	"mb": "MB", "manitoba": "MB",
	"nb": "NB", "new brunswick": "NB", "nouveau-brunswick": "NB",
	"nl": "NL", "newfoundland": "NL", "newfoundland and labrador": "NL", "labrador": "NL",
	"ns": "NS", "nova scotia": "NS", "nouvelle-ecosse": "NS",
	"nt": "NT", "northwest territories": "NT", "nwt": "NT",
	"nu": "NU", "nunavut": "NU",
	"on": "ON", "ontario": "ON",
	"pe": "PE", "pei": "PE", "prince edward island": "PE",
	"qc": "QC", "quebec": "QC", "pq": "QC",
	"sk": "SK", "saskatchewan": "SK",
	"yt": "YT", "yukon": "YT", "yukon territory": "YT",
}

// Codes is the list of all province and territory codes.
var Codes = []string{"AB", "BC", "MB", "NB", "NL", "NS", "NT", "NU", "ON", "PE", "QC", "SK", "YT"}

// ProvinceCode resolves s to a two-letter code. It accepts a bare code or
// name ("ON", "Ontario") and comma separated locations ("Thunder Bay, ON, Canada"),
// checking segments right to left. It returns "" when nothing resolves.
func ProvinceCode(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if code, ok := provinces[normalize(s)]; ok {
		return code
	}
	parts := strings.Split(s, ",")
	for i := len(parts) - 1; i >= 0; i-- {
		if code, ok := provinces[normalize(parts[i])]; ok {
			return code
		}
		// "Toronto ON M5V 2T6" style segments.
		fields := strings.Fields(parts[i])
		for j := len(fields) - 1; j >= 0; j-- {
			if code, ok := provinces[normalize(fields[j])]; ok && len(fields[j]) == 2 {
				return code
			}
		}
	}
	return ""
}

// IsCode reports whether code is a known two-letter province or territory code.
func IsCode(code string) bool {
	for _, c := range Codes {
		if c == code {
			return true
		}
	}
	return false
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(fold(s)))
	s = strings.TrimFunc(s, func(r rune) bool { return unicode.IsPunct(r) })
	return strings.Join(strings.Fields(s), " ")
}

// fold strips combining marks so "Québec" and "Quebec" compare equal.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
