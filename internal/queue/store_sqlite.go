package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/s3paste/internal/db"
)

const queueKey = "upload-queue"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// SQLiteStore keeps the queue as a single row of a key/value table
type SQLiteStore struct {
	db  *sqlx.DB
	own bool
}

// OpenSQLiteStore opens (or creates) the database at path
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := db.Open(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, err
	}
	store, err := NewSQLiteStore(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	store.own = true
	return store, nil
}

// NewSQLiteStore uses an existing connection. The caller keeps ownership of conn.
func NewSQLiteStore(conn *sqlx.DB) (*SQLiteStore, error) {
	if _, err := conn.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create queue table: %w", err)
	}
	return &SQLiteStore{db: conn}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = ?`, queueKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return value, err
}

const upsertQueue = `
	INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

func (s *SQLiteStore) Save(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, upsertQueue, queueKey, data)
	return err
}

// Update runs in one transaction. File databases are opened with _txlock=immediate,
// so BEGIN takes the write lock before the read and concurrent writers wait on busy_timeout.
func (s *SQLiteStore) Update(ctx context.Context, fn UpdateFunc) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current []byte
	err = tx.GetContext(ctx, &current, `SELECT value FROM kv_store WHERE key = ?`, queueKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	if next != nil {
		if _, err := tx.ExecContext(ctx, upsertQueue, queueKey, next); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database if the store opened it
func (s *SQLiteStore) Close() error {
	if !s.own {
		return nil
	}
	return s.db.Close()
}
