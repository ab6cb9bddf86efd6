package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// DB is the SQLite-backed Driver. Every Connect hands out a dedicated session;
// the pool keeps no idle sessions so releasing a Conn tears the session down.
type DB struct {
	pool *sql.DB
	path string
	mu   sync.Mutex
}

// New opens (and creates, if needed) the SQLite database at path.
func New(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, &ConnectionError{Op: "connect", Err: err, Transient: isTransientCause(err)}
	}

	// One physical session per Connect; nothing is reused across calls.
	pool.SetMaxIdleConns(0)
	pool.SetMaxOpenConns(10)

	log.Debug().Str("path", path).Msg("Database opened")

	return &DB{
		pool: pool,
		path: path,
	}, nil
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Close closes every open session.
func (db *DB) Close() error {
	return db.pool.Close()
}

// Ping checks that the database file can still be reached.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.PingContext(ctx); err != nil {
		return &ConnectionError{Op: "connect", Err: err, Transient: isTransientCause(err)}
	}
	return nil
}

// Connect acquires an exclusive session.
func (db *DB) Connect(ctx context.Context) (Conn, error) {
	conn, err := db.pool.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err, Transient: isTransientCause(err)}
	}
	return &sqlConn{conn: conn}, nil
}

// Transaction wraps fn in a transaction on the shared pool. It is used for
// schema and settings bookkeeping, which does not go through a Conn.
func (db *DB) Transaction(fn func(*sql.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.pool.Begin()
	if err != nil {
		return &TransactionError{Op: "begin", Err: err}
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			return &TransactionError{Op: "rollback", Err: rbErr, Cause: err}
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return &TransactionError{Op: "commit", Err: err}
	}

	return nil
}
