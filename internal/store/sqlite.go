package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"labtrack/internal/lab"
)

// SQLite keeps snapshots in a local database file.
type SQLite struct {
	db  *sql.DB
	key string
}

// NewSQLite opens (creating if needed) the database file at path.
func NewSQLite(path, key string) (*SQLite, error) {
	if key == "" {
		key = "default"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ioErr("sqlite", "open", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, ioErr("sqlite", "open", fmt.Errorf("open db: %w", err))
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ioErr("sqlite", "open", fmt.Errorf("ping db: %w", err))
	}
	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS lab_snapshots (
		id       TEXT PRIMARY KEY,
		body     TEXT NOT NULL,
		saved_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		db.Close()
		return nil, ioErr("sqlite", "migrate", err)
	}
	return &SQLite{db: db, key: key}, nil
}

// Close closes the database file.
func (s *SQLite) Close() error { return s.db.Close() }

// Load returns the stored dataset, or an empty one when nothing was saved.
func (s *SQLite) Load(ctx context.Context) (*lab.Dataset, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM lab_snapshots WHERE id = ?`, s.key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return lab.NewDataset(), nil
	}
	if err != nil {
		return nil, ioErr("sqlite", "load", err)
	}
	ds, err := Decode([]byte(body))
	return ds, ioErr("sqlite", "load", err)
}

// Save upserts the snapshot.
func (s *SQLite) Save(ctx context.Context, ds *lab.Dataset) error {
	body, err := Encode(ds)
	if err != nil {
		return ioErr("sqlite", "save", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO lab_snapshots (id, body, saved_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at`,
		s.key, string(body), time.Now().UTC(),
	)
	return ioErr("sqlite", "save", err)
}
