package extraction

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

func normalizeEmails(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(e), "mailto:")))
		at := strings.LastIndexByte(e, '@')
		if at <= 0 || !strings.Contains(e[at+1:], ".") || strings.ContainsAny(e, " \t<>") {
			continue
		}
		set[e] = struct{}{}
	}
	return sortedKeys(set)
}

// normalizePhones reduces numbers to E.164-like "+<digits>". North American
// ten digit numbers get a +1 country code; anything under seven digits is dropped.
func normalizePhones(in []string) []string {
	set := make(map[string]struct{}, len(in))
	for _, p := range in {
		var digits strings.Builder
		for _, r := range p {
			if unicode.IsDigit(r) {
				digits.WriteRune(r)
			}
		}
		d := digits.String()
		switch {
		case len(d) < 7:
			continue
		case len(d) == 10:
			d = "1" + d
		}
		set["+"+d] = struct{}{}
	}
	return sortedKeys(set)
}

// normalizeWebsite returns "https://host/path" with a lowercase host, no "www."
// prefix and no trailing slash, or "" when raw is not a usable URL.
func normalizeWebsite(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" || !strings.Contains(u.Hostname(), ".") {
		return ""
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return "https://" + host + strings.TrimRight(u.EscapedPath(), "/")
}

func normalizeHandles(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for platform, handle := range in {
		platform = strings.ToLower(strings.TrimSpace(platform))
		handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
		if platform == "" || handle == "" {
			continue
		}
		out[platform] = handle
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func buildContact(raw *models.CandidateRaw) models.ContactInfo {
	return models.ContactInfo{
		Emails:        normalizeEmails(raw.Emails),
		Phones:        normalizePhones(raw.Phones),
		Website:       normalizeWebsite(raw.URL),
		SocialHandles: normalizeHandles(raw.SocialHandles),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
