package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresDriverName          = "postgres"
	postgresOperationTimeout    = 5 * time.Second
	errMessageOpenPostgres      = "open postgres state db"
	errMessageMigratePostgres   = "migrate postgres state db"
	errMessageQueryPostgres     = "query postgres state"
	errMessageWritePostgres     = "write postgres state"
	postgresCreateStateTableSQL = `CREATE TABLE IF NOT EXISTS followback_state (
		state_key TEXT PRIMARY KEY,
		value JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	postgresSelectStateSQL = `SELECT state_key, value::text FROM followback_state`
	postgresUpsertStateSQL = `INSERT INTO followback_state (state_key, value, updated_at)
		VALUES ($1, $2::jsonb, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend stores each key as a JSONB row in PostgreSQL.
type PostgresBackend struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresBackend returns a backend for dsn. The connection is opened lazily.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errEmptyBackendDSN
	}
	return &PostgresBackend{dsn: dsn, openDB: sql.Open}, nil
}

// Load returns every stored key.
func (backend *PostgresBackend) Load(ctx context.Context) (map[string][]byte, error) {
	if err := backend.ensureReady(ctx); err != nil {
		return nil, err
	}
	queryContext, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	rows, err := backend.db.QueryContext(queryContext, postgresSelectStateSQL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageQueryPostgres, err)
	}
	defer rows.Close()

	values := map[string][]byte{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%s: %w", errMessageQueryPostgres, err)
		}
		values[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageQueryPostgres, err)
	}
	return values, nil
}

// Store upserts every key inside one transaction.
func (backend *PostgresBackend) Store(ctx context.Context, values map[string][]byte) error {
	if err := backend.ensureReady(ctx); err != nil {
		return err
	}
	writeContext, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	transaction, err := backend.db.BeginTx(writeContext, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageWritePostgres, err)
	}
	for key, value := range values {
		if _, execErr := transaction.ExecContext(writeContext, postgresUpsertStateSQL, key, string(value)); execErr != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("%s: %w", errMessageWritePostgres, execErr)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("%s: %w", errMessageWritePostgres, err)
	}
	return nil
}

// Close closes the connection pool when it was opened.
func (backend *PostgresBackend) Close() error {
	if backend == nil || backend.db == nil {
		return nil
	}
	return backend.db.Close()
}

func (backend *PostgresBackend) ensureReady(ctx context.Context) error {
	backend.initOnce.Do(func() {
		db, err := backend.openDB(postgresDriverName, backend.dsn)
		if err != nil {
			backend.initErr = fmt.Errorf("%s: %w", errMessageOpenPostgres, err)
			return
		}
		migrateContext, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		defer cancel()
		if _, execErr := db.ExecContext(migrateContext, postgresCreateStateTableSQL); execErr != nil {
			_ = db.Close()
			backend.initErr = fmt.Errorf("%s: %w", errMessageMigratePostgres, execErr)
			return
		}
		backend.db = db
	})
	return backend.initErr
}
