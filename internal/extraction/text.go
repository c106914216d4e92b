package extraction

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips diacritics ("Métis" -> "metis").
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// Words folds s and splits it on anything that is not a letter or digit.
func Words(s string) []string {
	return strings.FieldsFunc(Fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// CollapseSpace trims s and replaces internal whitespace runs with one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// phraseIndex is a word-boundary view of a text: " w1 w2 w3 ".
type phraseIndex string

func newPhraseIndex(parts ...string) phraseIndex {
	var b strings.Builder
	b.WriteByte(' ')
	for _, p := range parts {
		for _, w := range Words(p) {
			b.WriteString(w)
			b.WriteByte(' ')
		}
	}
	return phraseIndex(b.String())
}

// contains reports whether the folded phrase occurs on word boundaries.
func (p phraseIndex) contains(phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(string(p), " "+phrase+" ")
}

// normalizePhrases folds each term into the form phraseIndex.contains expects.
func normalizePhrases(terms []string) []string {
	out := make([]string, 0, len(terms))
	seen := make(map[string]bool, len(terms))
	for _, t := range terms {
		p := strings.Join(Words(t), " ")
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
