package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig configures the graph backend.
type Neo4jConfig struct {
	URI      string        `mapstructure:"uri"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

const neo4jDefaultTimeout = 10 * time.Second

// Neo4jStore keeps each record as a (:Record {key, value, version}) node.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *slog.Logger
}

// NewNeo4jStore connects, verifies connectivity and ensures the key constraint.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig, logger *slog.Logger) (*Neo4jStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.URI == "" {
		return nil, fmt.Errorf("neo4j store: uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = neo4jDefaultTimeout
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			c.ConnectionAcquisitionTimeout = timeout
		})
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, fmt.Errorf("verifying neo4j connectivity at %s: %w", cfg.URI, err)
	}

	s := &Neo4jStore{driver: driver, database: cfg.Database, logger: logger}
	if err := s.ensureSchema(vctx); err != nil {
		_ = driver.Close(context.Background())
		return nil, err
	}
	logger.Info("connected to neo4j record store", "uri", cfg.URI, "database", cfg.Database)
	return s, nil
}

func (s *Neo4jStore) ensureSchema(ctx context.Context) error {
	_, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "CREATE CONSTRAINT record_key IF NOT EXISTS FOR (r:Record) REQUIRE r.key IS UNIQUE", nil)
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("creating record constraint: %w", err)
	}
	return nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database, AccessMode: mode})
}

func (s *Neo4jStore) write(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeWrite)
	defer func() { _ = session.Close(ctx) }()
	return session.ExecuteWrite(ctx, work)
}

func (s *Neo4jStore) read(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer func() { _ = session.Close(ctx) }()
	return session.ExecuteRead(ctx, work)
}

// Get retrieves the record under key.
func (s *Neo4jStore) Get(ctx context.Context, key string) (*Record, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, "MATCH (r:Record {key: $key}) RETURN r.key AS key, r.value AS value, r.version AS version",
			map[string]any{"key": key})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		return recordFrom(res.Record())
	})
	if err != nil {
		return nil, fmt.Errorf("getting record %s: %w", key, err)
	}
	if out == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return out.(*Record), nil
}

// PutIfAbsent relies on MERGE under the unique key constraint. The nonce tells
// this call's create apart from a pre-existing node.
func (s *Neo4jStore) PutIfAbsent(ctx context.Context, key string, value []byte) (*Record, bool, error) {
	nonce := uuid.NewString()
	var created bool
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MERGE (r:Record {key: $key})
ON CREATE SET r.value = $value, r.version = 1, r.nonce = $nonce
RETURN r.key AS key, r.value AS value, r.version AS version, r.nonce = $nonce AS created`,
			map[string]any{"key": key, "value": string(value), "nonce": nonce})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		created, _, err = neo4j.GetRecordValue[bool](rec, "created")
		if err != nil {
			return nil, err
		}
		return recordFrom(rec)
	})
	if err != nil {
		return nil, false, fmt.Errorf("inserting record %s: %w", key, err)
	}
	return out.(*Record), created, nil
}

// CompareAndSwap sets the value when the stored version equals expected.
func (s *Neo4jStore) CompareAndSwap(ctx context.Context, key string, expected int64, value []byte) (*Record, error) {
	out, err := s.write(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (r:Record {key: $key}) WHERE r.version = $expected
SET r.value = $value, r.version = r.version + 1
RETURN r.key AS key, r.value AS value, r.version AS version`,
			map[string]any{"key": key, "expected": expected, "value": string(value)})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			return nil, res.Err()
		}
		return recordFrom(res.Record())
	})
	if err != nil {
		return nil, fmt.Errorf("updating record %s: %w", key, err)
	}
	if out != nil {
		if rec, ok := out.(*Record); ok && rec != nil {
			return rec, nil
		}
	}
	current, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s at version %d, expected %d", ErrVersionConflict, key, current.Version, expected)
}

// List returns nodes whose key starts with prefix.
func (s *Neo4jStore) List(ctx context.Context, prefix string) ([]Record, error) {
	out, err := s.read(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (r:Record) WHERE r.key STARTS WITH $prefix
RETURN r.key AS key, r.value AS value, r.version AS version ORDER BY r.key`,
			map[string]any{"prefix": prefix})
		if err != nil {
			return nil, err
		}
		var records []Record
		for res.Next(ctx) {
			r, err := recordFrom(res.Record())
			if err != nil {
				return nil, err
			}
			records = append(records, *r)
		}
		return records, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing records %q: %w", prefix, err)
	}
	records, _ := out.([]Record)
	return records, nil
}

// Ping verifies connectivity.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the driver.
func (s *Neo4jStore) Close() error {
	return s.driver.Close(context.Background())
}

func recordFrom(rec *neo4j.Record) (*Record, error) {
	if rec == nil {
		return nil, errors.New("empty neo4j record")
	}
	key, _, err := neo4j.GetRecordValue[string](rec, "key")
	if err != nil {
		return nil, err
	}
	value, _, err := neo4j.GetRecordValue[string](rec, "value")
	if err != nil {
		return nil, err
	}
	version, _, err := neo4j.GetRecordValue[int64](rec, "version")
	if err != nil {
		return nil, err
	}
	return &Record{Key: key, Value: []byte(value), Version: version}, nil
}
