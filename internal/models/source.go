package models

import "time"

// SourceType identifies the category of external system a record came from.
type SourceType string

const (
	SourceWeb           SourceType = "web"
	SourceGovRegistry   SourceType = "gov_registry"
	SourceSocial        SourceType = "social"
	SourceNews          SourceType = "news"
	SourceIndustryAssoc SourceType = "industry_assoc"
)

// ValidSourceTypes is the set of all valid source types, in dispatch order.
var ValidSourceTypes = []SourceType{
	SourceGovRegistry,
	SourceIndustryAssoc,
	SourceNews,
	SourceWeb,
	SourceSocial,
}

// IsValid returns true if the source type is recognized.
func (st SourceType) IsValid() bool {
	for i := range ValidSourceTypes {
		if st == ValidSourceTypes[i] {
			return true
		}
	}
	return false
}

// IndicatorFlag marks a piece of evidence found on a candidate.
type IndicatorFlag string

const (
	FlagIndigenousTerm    IndicatorFlag = "indigenous_term"
	FlagGovRegistrySource IndicatorFlag = "gov_registry_source"
	FlagAssociationMember IndicatorFlag = "association_member"
	FlagNewsMention       IndicatorFlag = "news_mention"
	FlagComplianceProgram IndicatorFlag = "compliance_program"
)

// CandidateRaw is a single unnormalized result returned by a source adapter.
type CandidateRaw struct {
	SourceType         SourceType        `json:"source_type" yaml:"source_type"`
	SourceRef          string            `json:"source_ref" yaml:"source_ref"`
	Name               string            `json:"name" yaml:"name"`
	LegalName          string            `json:"legal_name,omitempty" yaml:"legal_name"`
	Description        string            `json:"description,omitempty" yaml:"description"`
	Text               string            `json:"text,omitempty" yaml:"text"`
	URL                string            `json:"url,omitempty" yaml:"url"`
	Emails             []string          `json:"emails,omitempty" yaml:"emails"`
	Phones             []string          `json:"phones,omitempty" yaml:"phones"`
	Address            string            `json:"address,omitempty" yaml:"address"`
	City               string            `json:"city,omitempty" yaml:"city"`
	Province           string            `json:"province,omitempty" yaml:"province"`
	Country            string            `json:"country,omitempty" yaml:"country"`
	IndustryCode       string            `json:"industry_code,omitempty" yaml:"industry_code"`
	Keywords           []string          `json:"keywords,omitempty" yaml:"keywords"`
	RegistrationNumber string            `json:"registration_number,omitempty" yaml:"registration_number"`
	SelfIdentified     bool              `json:"self_identified,omitempty" yaml:"self_identified"`
	SocialHandles      map[string]string `json:"social_handles,omitempty" yaml:"social_handles"`
	// Shallow results only carry enough to call Extract(SourceRef) for the full record.
	Shallow    bool      `json:"shallow,omitempty" yaml:"shallow"`
	ObservedAt time.Time `json:"observed_at" yaml:"observed_at"`
}

// Location is a structured business location.
type Location struct {
	City     string `json:"city,omitempty"`
	Province string `json:"province,omitempty"` // two-letter province/territory code when resolvable
	Country  string `json:"country"`
}

// String renders the location as "City, PR, Country", skipping empty parts.
func (l Location) String() string {
	out := ""
	for _, part := range []string{l.City, l.Province, l.Country} {
		if part == "" {
			continue
		}
		if out != "" {
			out += ", "
		}
		out += part
	}
	return out
}

// ContactInfo holds deduplicated contact details. Emails and Phones are kept sorted.
type ContactInfo struct {
	Emails        []string          `json:"emails,omitempty"`
	Phones        []string          `json:"phones,omitempty"`
	Website       string            `json:"website,omitempty"`
	SocialHandles map[string]string `json:"social_handles,omitempty"`
}

// HasAny reports whether at least one direct contact channel is present.
func (c ContactInfo) HasAny() bool {
	return len(c.Emails) > 0 || len(c.Phones) > 0
}

// CandidateBusiness is the normalized, ephemeral form of one raw result.
type CandidateBusiness struct {
	RawName            string          `json:"raw_name"`
	DisplayName        string          `json:"display_name"`
	LegalNameGuess     string          `json:"legal_name_guess,omitempty"`
	LegalSuffix        string          `json:"legal_suffix,omitempty"`
	Location           Location        `json:"location"`
	Address            string          `json:"address,omitempty"`
	Contact            ContactInfo     `json:"contact"`
	IndustryGuess      string          `json:"industry_guess,omitempty"`
	IndicatorFlags     []IndicatorFlag `json:"indicator_flags,omitempty"`
	SourceType         SourceType      `json:"source_type"`
	SourceRef          string          `json:"source_ref"`
	RegistrationNumber string          `json:"registration_number,omitempty"`
	ObservedAt         time.Time       `json:"observed_at"`
}

// HasFlag reports whether the candidate carries the given indicator.
func (c *CandidateBusiness) HasFlag(f IndicatorFlag) bool {
	for i := range c.IndicatorFlags {
		if c.IndicatorFlags[i] == f {
			return true
		}
	}
	return false
}
