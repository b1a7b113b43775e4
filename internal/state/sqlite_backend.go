package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteDriverName          = "sqlite"
	sqliteOperationTimeout    = 5 * time.Second
	errMessageOpenSQLite      = "open sqlite state db"
	errMessageApplyPragma     = "apply pragma"
	errMessageMigrateSQLite   = "migrate sqlite state db"
	errMessageQuerySQLite     = "query sqlite state"
	errMessageWriteSQLite     = "write sqlite state"
	sqliteCreateStateTableSQL = `CREATE TABLE IF NOT EXISTS followback_state (
		state_key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	sqliteSelectStateSQL = `SELECT state_key, value FROM followback_state`
	sqliteUpsertStateSQL = `INSERT INTO followback_state (state_key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(state_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
)

var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout = 5000",
}

// SQLiteBackend stores each key as a row in a local SQLite database.
type SQLiteBackend struct {
	path string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewSQLiteBackend returns a backend for the database at path. The database is opened lazily.
func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

// Load returns every stored key.
func (backend *SQLiteBackend) Load(ctx context.Context) (map[string][]byte, error) {
	if err := backend.ensureReady(); err != nil {
		return nil, err
	}
	queryContext, cancel := context.WithTimeout(ctx, sqliteOperationTimeout)
	defer cancel()

	rows, err := backend.db.QueryContext(queryContext, sqliteSelectStateSQL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageQuerySQLite, err)
	}
	defer rows.Close()

	values := map[string][]byte{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("%s: %w", errMessageQuerySQLite, err)
		}
		values[key] = []byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageQuerySQLite, err)
	}
	return values, nil
}

// Store upserts every key inside one transaction.
func (backend *SQLiteBackend) Store(ctx context.Context, values map[string][]byte) error {
	if err := backend.ensureReady(); err != nil {
		return err
	}
	writeContext, cancel := context.WithTimeout(ctx, sqliteOperationTimeout)
	defer cancel()

	transaction, err := backend.db.BeginTx(writeContext, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteSQLite, err)
	}
	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range values {
		if _, execErr := transaction.ExecContext(writeContext, sqliteUpsertStateSQL, key, string(value), timestamp); execErr != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("%s: %w", errMessageWriteSQLite, execErr)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteSQLite, err)
	}
	return nil
}

// Close closes the database when it was opened.
func (backend *SQLiteBackend) Close() error {
	if backend == nil || backend.db == nil {
		return nil
	}
	return backend.db.Close()
}

func (backend *SQLiteBackend) ensureReady() error {
	backend.initOnce.Do(func() {
		if backend.path == "" {
			backend.initErr = errMissingBackendPath
			return
		}
		if directory := filepath.Dir(backend.path); directory != "." {
			if err := os.MkdirAll(directory, stateDirectoryPermissions); err != nil {
				backend.initErr = fmt.Errorf("%s: %w", errMessageOpenSQLite, err)
				return
			}
		}
		db, err := sql.Open(sqliteDriverName, backend.path)
		if err != nil {
			backend.initErr = fmt.Errorf("%s: %w", errMessageOpenSQLite, err)
			return
		}
		for _, pragma := range sqlitePragmas {
			if _, execErr := db.Exec(pragma); execErr != nil {
				_ = db.Close()
				backend.initErr = fmt.Errorf("%s %q: %w", errMessageApplyPragma, pragma, execErr)
				return
			}
		}
		if _, execErr := db.Exec(sqliteCreateStateTableSQL); execErr != nil {
			_ = db.Close()
			backend.initErr = fmt.Errorf("%s: %w", errMessageMigrateSQLite, execErr)
			return
		}
		backend.db = db
	})
	return backend.initErr
}
