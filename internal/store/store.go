// Package store is the persistence boundary: a versioned key-value record store
// with first-writer-wins inserts and compare-and-swap updates.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrNotFound is returned by Get and CompareAndSwap when the key does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by CompareAndSwap when the stored version moved on.
	ErrVersionConflict = errors.New("record version conflict")
)

// Record is one stored value. Version starts at 1 and increases by one on every swap.
type Record struct {
	Key     string
	Value   []byte
	Version int64
}

// RecordStore is implemented by every backend.
type RecordStore interface {
	// Get returns the record stored under key.
	Get(ctx context.Context, key string) (*Record, error)

	// PutIfAbsent stores value under key unless the key exists. It returns the
	// record now stored and whether this call created it.
	PutIfAbsent(ctx context.Context, key string, value []byte) (*Record, bool, error)

	// CompareAndSwap replaces the value when the stored version equals expected.
	CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (*Record, error)

	// List returns all records whose key starts with prefix, ordered by key.
	List(ctx context.Context, prefix string) ([]Record, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNeo4j    = "neo4j"
)

// Options selects and configures a backend.
type Options struct {
	Backend     string
	SQLitePath  string
	PostgresDSN string
	Neo4j       Neo4jConfig
	// SkipMigrations leaves SQL schema management to the migrate command.
	SkipMigrations bool
}

// Open creates the configured backend. SQL backends are migrated to the latest
// schema unless SkipMigrations is set.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (RecordStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch strings.ToLower(opts.Backend) {
	case "", BackendMemory:
		logger.Info("using in-memory record store")
		return NewMemoryStore(), nil
	case BackendSQLite:
		return OpenSQL(ctx, DialectSQLite, opts.SQLitePath, !opts.SkipMigrations, logger)
	case BackendPostgres:
		return OpenSQL(ctx, DialectPostgres, opts.PostgresDSN, !opts.SkipMigrations, logger)
	case BackendNeo4j:
		return NewNeo4jStore(ctx, opts.Neo4j, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func cloneRecord(r Record) *Record {
	v := make([]byte, len(r.Value))
	copy(v, r.Value)
	return &Record{Key: r.Key, Value: v, Version: r.Version}
}
