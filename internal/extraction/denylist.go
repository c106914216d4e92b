package extraction

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// DefaultAggregatorDomains are directory and listing sites whose pages describe
// many businesses rather than one.
var DefaultAggregatorDomains = []string{
	"yelp.com",
	"yelp.ca",
	"yellowpages.ca",
	"yellowpages.com",
	"canada411.ca",
	"411.ca",
	"bbb.org",
	"indeed.com",
	"glassdoor.com",
	"glassdoor.ca",
	"opencorporates.com",
	"zoominfo.com",
	"manta.com",
	"crunchbase.com",
	"dnb.com",
	"tripadvisor.com",
	"tripadvisor.ca",
	"kijiji.ca",
	"wikipedia.org",
	"canadacompanyregistry.com",
}

// noiseNames match titles of listing pages rather than business names.
var noiseNames = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*(the\s+)?(top|best)\s+\d+\b`),
	regexp.MustCompile(`(?i)\b(near me|search results|business directory|listings)\b`),
	regexp.MustCompile(`(?i)\b\d+\s+(companies|businesses|contractors)\s+in\b`),
	regexp.MustCompile(`(?i)\breviews?\s+(of|for)\b`),
}

type denylist struct {
	domains map[string]struct{}
}

func newDenylist(domains []string) *denylist {
	d := &denylist{domains: make(map[string]struct{}, len(domains))}
	for _, dom := range domains {
		if reg := registrableDomain(dom); reg != "" {
			d.domains[reg] = struct{}{}
		}
	}
	return d
}

// matchesDomain reports whether rawURL belongs to a denylisted registrable domain.
func (d *denylist) matchesDomain(rawURL string) bool {
	reg := registrableDomain(rawURL)
	if reg == "" {
		return false
	}
	_, ok := d.domains[reg]
	return ok
}

func matchesNoiseName(name string) bool {
	for _, re := range noiseNames {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// registrableDomain returns the eTLD+1 of a URL or bare host ("m.yelp.ca" -> "yelp.ca").
func registrableDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	reg, err := publicsuffix.EffectiveTLDPlusOne(u.Hostname())
	if err != nil {
		return ""
	}
	return reg
}
