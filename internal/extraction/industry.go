package extraction

import (
	"strings"
	"unicode"
)

// naicsPrefixes maps NAICS code prefixes to industry labels. Longer prefixes
// are more specific and win over their sector.
var naicsPrefixes = map[string]string{
	"11":   "Agriculture, Forestry, Fishing and Hunting",
	"1133": "Logging",
	"21":   "Mining, Quarrying, and Oil and Gas Extraction",
	"2111": "Oil and Gas Extraction",
	"2122": "Metal Ore Mining",
	"2131": "Support Activities for Mining and Oil and Gas",
	"22":   "Utilities",
	"2211": "Electric Power Generation and Distribution",
	"23":   "Construction",
	"2361": "Residential Building Construction",
	"2362": "Non-Residential Building Construction",
	"237":  "Heavy and Civil Engineering Construction",
	"238":  "Specialty Trade Contractors",
	"31":   "Manufacturing",
	"32":   "Manufacturing",
	"33":   "Manufacturing",
	"41":   "Wholesale Trade",
	"42":   "Wholesale Trade",
	"44":   "Retail Trade",
	"45":   "Retail Trade",
	"48":   "Transportation and Warehousing",
	"4841": "General Freight Trucking",
	"481":  "Air Transportation",
	"49":   "Transportation and Warehousing",
	"51":   "Information and Cultural Industries",
	"52":   "Finance and Insurance",
	"53":   "Real Estate and Rental and Leasing",
	"54":   "Professional, Scientific and Technical Services",
	"5413": "Architectural, Engineering and Related Services",
	"5415": "Computer Systems Design and Related Services",
	"5416": "Management, Scientific and Technical Consulting Services",
	"5417": "Scientific Research and Development Services",
	"55":   "Management of Companies and Enterprises",
	"56":   "Administrative and Support, Waste Management and Remediation Services",
	"5616": "Investigation and Security Services",
	"562":  "Waste Management and Remediation Services",
	"61":   "Educational Services",
	"62":   "Health Care and Social Assistance",
	"71":   "Arts, Entertainment and Recreation",
	"72":   "Accommodation and Food Services",
	"81":   "Other Services",
	"91":   "Public Administration",
}

// industryKeywords is checked in order; the first phrase present wins.
var industryKeywords = []struct {
	phrase string
	label  string
}{
	{"software", "Computer Systems Design and Related Services"},
	{"it services", "Computer Systems Design and Related Services"},
	{"cybersecurity", "Computer Systems Design and Related Services"},
	{"web design", "Computer Systems Design and Related Services"},
	{"engineering", "Architectural, Engineering and Related Services"},
	{"architecture", "Architectural, Engineering and Related Services"},
	{"environmental consulting", "Management, Scientific and Technical Consulting Services"},
	{"consulting", "Management, Scientific and Technical Consulting Services"},
	{"general contractor", "Construction"},
	{"construction", "Construction"},
	{"contracting", "Construction"},
	{"excavation", "Heavy and Civil Engineering Construction"},
	{"road building", "Heavy and Civil Engineering Construction"},
	{"electrical", "Specialty Trade Contractors"},
	{"plumbing", "Specialty Trade Contractors"},
	{"trucking", "General Freight Trucking"},
	{"freight", "General Freight Trucking"},
	{"logistics", "Transportation and Warehousing"},
	{"airline", "Air Transportation"},
	{"forestry", "Logging"},
	{"logging", "Logging"},
	{"fishing", "Agriculture, Forestry, Fishing and Hunting"},
	{"agriculture", "Agriculture, Forestry, Fishing and Hunting"},
	{"mining", "Mining, Quarrying, and Oil and Gas Extraction"},
	{"oil and gas", "Oil and Gas Extraction"},
	{"energy", "Utilities"},
	{"solar", "Electric Power Generation and Distribution"},
	{"manufacturing", "Manufacturing"},
	{"catering", "Accommodation and Food Services"},
	{"restaurant", "Accommodation and Food Services"},
	{"hotel", "Accommodation and Food Services"},
	{"tourism", "Arts, Entertainment and Recreation"},
	{"security services", "Investigation and Security Services"},
	{"janitorial", "Administrative and Support, Waste Management and Remediation Services"},
	{"waste management", "Waste Management and Remediation Services"},
	{"staffing", "Administrative and Support, Waste Management and Remediation Services"},
	{"training", "Educational Services"},
	{"health", "Health Care and Social Assistance"},
	{"accounting", "Professional, Scientific and Technical Services"},
	{"legal services", "Professional, Scientific and Technical Services"},
	{"insurance", "Finance and Insurance"},
	{"real estate", "Real Estate and Rental and Leasing"},
	{"retail", "Retail Trade"},
	{"wholesale", "Wholesale Trade"},
	{"printing", "Manufacturing"},
	{"media", "Information and Cultural Industries"},
}

// IndustryForCode resolves a NAICS code by longest matching prefix.
// It returns "" when no prefix matches.
func IndustryForCode(code string) string {
	code = strings.TrimFunc(code, func(r rune) bool { return !unicode.IsDigit(r) })
	if idx := strings.IndexFunc(code, func(r rune) bool { return !unicode.IsDigit(r) }); idx >= 0 {
		code = code[:idx]
	}
	for n := len(code); n >= 2; n-- {
		if label, ok := naicsPrefixes[code[:n]]; ok {
			return label
		}
	}
	return ""
}

func industryFromKeywords(idx phraseIndex) string {
	for _, k := range industryKeywords {
		if idx.contains(k.phrase) {
			return k.label
		}
	}
	return ""
}
