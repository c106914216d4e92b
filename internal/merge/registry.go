package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/ajitpratap0/discovery-swarm/internal/identity"
	"github.com/ajitpratap0/discovery-swarm/internal/store"
)

var _ identity.RegistryIndex = (*Store)(nil)

// RegistryKey returns the identity key bound to a registration number.
func (s *Store) RegistryKey(ctx context.Context, regID string) (string, bool, error) {
	rec, err := s.records.Get(ctx, registryPrefix+regID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrStore, err)
	}
	return string(rec.Value), true, nil
}

// ClaimNameKey records the first registration number seen for a name key.
func (s *Store) ClaimNameKey(ctx context.Context, nameKey, regID string) (string, error) {
	rec, _, err := s.records.PutIfAbsent(ctx, nameClaimPrefix+nameKey, []byte(regID))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	return string(rec.Value), nil
}

// BindRegistry binds regID to key unless it is already bound.
func (s *Store) BindRegistry(ctx context.Context, regID, key string) (string, error) {
	rec, created, err := s.records.PutIfAbsent(ctx, registryPrefix+regID, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStore, err)
	}
	if created {
		s.logger.Debug("bound registration number", "registration_number", regID, "key", key)
	}
	return string(rec.Value), nil
}
