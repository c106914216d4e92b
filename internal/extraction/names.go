package extraction

import (
	"strings"
)

// legalSuffixes are compared after folding and removing dots.
var legalSuffixes = map[string]bool{
	"inc":          true,
	"incorporated": true,
	"ltd":          true,
	"limited":      true,
	"ltee":         true,
	"llc":          true,
	"llp":          true,
	"lp":           true,
	"corp":         true,
	"corporation":  true,
	"co":           true,
	"company":      true,
	"ulc":          true,
	"plc":          true,
	"enr":          true,
	"senc":         true,
	"gmbh":         true,
}

func isLegalSuffix(token string) bool {
	t := Fold(strings.Trim(token, ",;()"))
	t = strings.ReplaceAll(t, ".", "")
	return legalSuffixes[t]
}

// SplitLegalSuffix separates trailing legal-form tokens from a business name.
// "Eagle Feather Enterprises Ltd." yields ("Eagle Feather Enterprises", "Ltd.").
// A name made only of a suffix word is returned unchanged.
func SplitLegalSuffix(name string) (base, suffix string) {
	tokens := strings.Fields(name)
	cut := len(tokens)
	for cut > 1 && isLegalSuffix(tokens[cut-1]) {
		cut--
	}
	if cut == len(tokens) {
		return strings.Join(tokens, " "), ""
	}
	base = strings.TrimRight(strings.Join(tokens[:cut], " "), " ,;-")
	suffix = strings.Join(tokens[cut:], " ")
	if base == "" {
		return strings.Join(tokens, " "), ""
	}
	return base, suffix
}
