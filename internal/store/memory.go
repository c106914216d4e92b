package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-process RecordStore for tests and single-run use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get retrieves a copy of the record under key.
func (m *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return cloneRecord(r), nil
}

// PutIfAbsent stores value at version 1 unless key already exists.
func (m *MemoryStore) PutIfAbsent(_ context.Context, key string, value []byte) (*Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[key]; ok {
		return cloneRecord(r), false, nil
	}
	// Copy so later caller mutations don't reach stored data.
	r := *cloneRecord(Record{Key: key, Value: value, Version: 1})
	m.records[key] = r
	return cloneRecord(r), true, nil
}

// CompareAndSwap replaces the value when the version matches.
func (m *MemoryStore) CompareAndSwap(_ context.Context, key string, expected int64, value []byte) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if r.Version != expected {
		return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, key, r.Version, expected)
	}
	next := *cloneRecord(Record{Key: key, Value: value, Version: r.Version + 1})
	m.records[key] = next
	return cloneRecord(next), nil
}

// List returns records with the given key prefix sorted by key.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for k, r := range m.records {
		if strings.HasPrefix(k, prefix) {
			out = append(out, *cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *MemoryStore) Close() error { return nil }
