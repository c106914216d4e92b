// Package identity derives the deduplication key for candidate businesses.
//
// Name keys are built from the operating name: folded to lowercase ASCII where
// possible, "&" read as "and", punctuation and whitespace removed, trailing legal
// suffixes dropped, truncated to a bounded number of runes. The province code is
// appended as "-xx" when it resolves, so the same name in two provinces yields two
// keys. Government registry candidates are keyed by their registration number: the
// first registry record to claim a name key adopts it, later ones fall back to
// "reg-<number>".
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/ajitpratap0/discovery-swarm/internal/extraction"
	"github.com/ajitpratap0/discovery-swarm/internal/models"
)

// ErrEmptyName is returned when a name normalizes to nothing.
var ErrEmptyName = errors.New("name normalizes to an empty key")

// DefaultMaxNameKeyLength bounds the name portion of a key, in runes.
const DefaultMaxNameKeyLength = 48

// RegistryIndex persists registration-number bindings. Implementations must make
// ClaimNameKey and BindRegistry first-writer-wins.
type RegistryIndex interface {
	// RegistryKey returns the key bound to regID, if any.
	RegistryKey(ctx context.Context, regID string) (key string, ok bool, err error)
	// ClaimNameKey records regID as the registry owner of nameKey and returns the
	// owner, which is a different registration number when already claimed.
	ClaimNameKey(ctx context.Context, nameKey, regID string) (owner string, err error)
	// BindRegistry binds regID to key and returns the key that ends up bound.
	BindRegistry(ctx context.Context, regID, key string) (bound string, err error)
}

// Resolver computes identity keys. It is safe for concurrent use when the index is.
type Resolver struct {
	index  RegistryIndex
	maxLen int
}

// NewResolver creates a Resolver. A nil index disables registry binding and
// registry candidates are keyed "reg-<number>" directly.
func NewResolver(index RegistryIndex, maxNameKeyLength int) *Resolver {
	if maxNameKeyLength <= 0 {
		maxNameKeyLength = DefaultMaxNameKeyLength
	}
	return &Resolver{index: index, maxLen: maxNameKeyLength}
}

// NameKey returns the name+province key for c.
func (r *Resolver) NameKey(c *models.CandidateBusiness) (string, error) {
	name := c.DisplayName
	if name == "" {
		name = c.RawName
	}
	base := normalizeName(name)
	if base == "" {
		return "", fmt.Errorf("%q: %w", name, ErrEmptyName)
	}
	runes := []rune(base)
	if len(runes) > r.maxLen {
		base = string(runes[:r.maxLen])
	}
	if p := strings.ToLower(c.Location.Province); p != "" {
		return base + "-" + p, nil
	}
	return base, nil
}

// Resolve returns the identity key for c. Registration numbers are only trusted
// from government registry candidates.
func (r *Resolver) Resolve(ctx context.Context, c *models.CandidateBusiness) (string, error) {
	nameKey, nameErr := r.NameKey(c)
	regID := NormalizeRegistrationNumber(c.RegistrationNumber)
	if c.SourceType != models.SourceGovRegistry || regID == "" {
		return nameKey, nameErr
	}
	if r.index == nil {
		return RegistryKey(regID), nil
	}

	key, ok, err := r.index.RegistryKey(ctx, regID)
	if err != nil {
		return "", fmt.Errorf("looking up registry binding %s: %w", regID, err)
	}
	if ok {
		return key, nil
	}

	want := RegistryKey(regID)
	if nameErr == nil {
		owner, err := r.index.ClaimNameKey(ctx, nameKey, regID)
		if err != nil {
			return "", fmt.Errorf("claiming name key %s: %w", nameKey, err)
		}
		if owner == regID {
			want = nameKey
		}
	}
	bound, err := r.index.BindRegistry(ctx, regID, want)
	if err != nil {
		return "", fmt.Errorf("binding registry %s: %w", regID, err)
	}
	return bound, nil
}

// RegistryKey is the fallback key for a registration number.
func RegistryKey(regID string) string {
	return "reg-" + strings.ToLower(regID)
}

// NormalizeRegistrationNumber uppercases and keeps only letters and digits.
func NormalizeRegistrationNumber(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeName(name string) string {
	name = strings.ReplaceAll(name, "&", " and ")
	base, _ := extraction.SplitLegalSuffix(extraction.CollapseSpace(name))
	return strings.Join(extraction.Words(base), "")
}
