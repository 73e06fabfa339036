package store

import (
	"context"
	"database/sql"
	"errors"

	"labtrack/internal/lab"
)

// Postgres stores snapshots as JSONB rows keyed by name.
type Postgres struct {
	db  *sql.DB
	key string
}

// NewPostgres creates the snapshot table when missing.
func NewPostgres(ctx context.Context, db *sql.DB, key string) (*Postgres, error) {
	if key == "" {
		key = "default"
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS lab_snapshots (
			id       TEXT PRIMARY KEY,
			body     JSONB NOT NULL,
			saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, ioErr("postgres", "migrate", err)
	}
	return &Postgres{db: db, key: key}, nil
}

// Load returns the stored dataset, or an empty one when no row exists.
func (p *Postgres) Load(ctx context.Context) (*lab.Dataset, error) {
	var body []byte
	err := p.db.QueryRowContext(ctx, `SELECT body FROM lab_snapshots WHERE id = $1`, p.key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return lab.NewDataset(), nil
	}
	if err != nil {
		return nil, ioErr("postgres", "load", err)
	}
	ds, err := Decode(body)
	return ds, ioErr("postgres", "load", err)
}

// Save upserts the snapshot row.
func (p *Postgres) Save(ctx context.Context, ds *lab.Dataset) error {
	body, err := Encode(ds)
	if err != nil {
		return ioErr("postgres", "save", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO lab_snapshots (id, body, saved_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET body = EXCLUDED.body, saved_at = NOW()
	`, p.key, string(body))
	return ioErr("postgres", "save", err)
}
