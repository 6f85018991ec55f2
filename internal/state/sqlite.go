package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const kvSchema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at DATETIME NOT NULL
)`

// SQLiteKV stores state in a single table of a local SQLite file.
type SQLiteKV struct {
	db *sqlx.DB
}

// NewSQLiteKV opens (or creates) the state database at path.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv table: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

func (k *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := k.db.GetContext(ctx, &v, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading state %q: %w", key, err)
	}
	return v, nil
}

func (k *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := k.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing state %q: %w", key, err)
	}
	return nil
}

func (k *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := k.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting state %q: %w", key, err)
	}
	return nil
}

func (k *SQLiteKV) Close() error { return k.db.Close() }
