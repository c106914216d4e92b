package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// Dialect selects SQL flavour and driver.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driver() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) goose() goose.Dialect {
	if d == DialectPostgres {
		return goose.DialectPostgres
	}
	return goose.DialectSQLite3
}

// SQLStore implements RecordStore on a single "records" table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// OpenSQL opens dsn with the dialect's driver and optionally applies migrations.
func OpenSQL(ctx context.Context, dialect Dialect, dsn string, migrate bool, logger *slog.Logger) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("opening %s store: empty dsn", dialect)
	}
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", dialect, err)
	}
	if dialect == DialectSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s store: %w", dialect, err)
	}
	if migrate {
		if _, err := Migrate(ctx, db, dialect); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	logger.Info("connected to record store", "dialect", dialect)
	return NewSQLStore(db, dialect, logger), nil
}

// NewSQLStore wraps an existing connection pool. The schema must already exist.
func NewSQLStore(db *sql.DB, dialect Dialect, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{db: db, dialect: dialect, logger: logger}
}

// DB exposes the pool for the migrate command.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the store's SQL dialect.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

// Migrate applies all pending embedded migrations and returns the applied versions.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) ([]int64, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return nil, err
	}
	results, err := p.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("applying migrations: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

// MigrationVersion returns the current schema version.
func MigrationVersion(ctx context.Context, db *sql.DB, dialect Dialect) (int64, error) {
	p, err := newProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	v, err := p.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

func newProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	p, err := goose.NewProvider(dialect.goose(), db, fsys)
	if err != nil {
		return nil, fmt.Errorf("creating migration provider: %w", err)
	}
	return p, nil
}

// rebind converts "?" placeholders to "$n" for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get retrieves the record under key.
func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var value string
	var version int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value, version FROM records WHERE key = ?`), key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", key, err)
	}
	return &Record{Key: key, Value: []byte(value), Version: version}, nil
}

// PutIfAbsent inserts at version 1, leaving an existing row untouched.
func (s *SQLStore) PutIfAbsent(ctx context.Context, key string, value []byte) (*Record, bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO records (key, value, version, updated_at) VALUES (?, ?, 1, ?) ON CONFLICT (key) DO NOTHING`),
		key, string(value), time.Now().UTC())
	if err != nil {
		return nil, false, fmt.Errorf("inserting record %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("inserting record %s: %w", key, err)
	}
	if n == 1 {
		return cloneRecord(Record{Key: key, Value: value, Version: 1}), true, nil
	}
	existing, err := s.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CompareAndSwap updates the row only when its version equals expected.
func (s *SQLStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (*Record, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE records SET value = ?, version = version + 1, updated_at = ? WHERE key = ? AND version = ?`),
		string(value), time.Now().UTC(), key, expected)
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", key, err)
	}
	if n == 1 {
		return cloneRecord(Record{Key: key, Value: value, Version: expected + 1}), nil
	}
	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, key, current.Version, expected)
}

// List returns rows whose key starts with prefix.
func (s *SQLStore) List(ctx context.Context, prefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT key, value, version FROM records WHERE key LIKE ? ESCAPE '\' ORDER BY key`),
		escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("listing records %q: %w", prefix, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		var value string
		if err := rows.Scan(&r.Key, &value, &r.Version); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		// SQLite LIKE ignores ASCII case.
		if !strings.HasPrefix(r.Key, prefix) {
			continue
		}
		r.Value = []byte(value)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing records %q: %w", prefix, err)
	}
	return out, nil
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
