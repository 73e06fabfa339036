package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded change to the lab dataset.
type Event struct {
	ID       string    `json:"id"`
	Kind     string    `json:"kind"`
	LabID    string    `json:"lab_id,omitempty"`
	ActorID  string    `json:"actor_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	When     time.Time `json:"when"`
	Recorded time.Time `json:"recorded_at"`
}

// Repository persists audit events in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the audit table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS audit_events (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			lab_id      TEXT NOT NULL DEFAULT '',
			actor_id    TEXT NOT NULL DEFAULT '',
			detail      TEXT NOT NULL DEFAULT '',
			occurred_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_lab ON audit_events(lab_id);
	`)
	return err
}

// Insert writes an event, filling id and time when empty. Re-delivered
// events with a known id are ignored.
func (r *Repository) Insert(ctx context.Context, evt Event) (Event, error) {
	if evt.Kind == "" {
		return Event{}, errors.New("event kind required")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.When.IsZero() {
		evt.When = time.Now().UTC()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (id, kind, lab_id, actor_id, detail, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING recorded_at
	`, evt.ID, evt.Kind, evt.LabID, evt.ActorID, evt.Detail, evt.When)
	if err := row.Scan(&evt.Recorded); err != nil {
		return Event{}, err
	}
	return evt, nil
}

// List returns events newest first with optional lab and kind filters.
func (r *Repository) List(ctx context.Context, labID, kind string, limit, offset int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, kind, lab_id, actor_id, detail, occurred_at, recorded_at FROM audit_events`
	args := []any{}
	clauses := []string{}
	if labID != "" {
		clauses = append(clauses, fmt.Sprintf("lab_id = $%d", len(args)+1))
		args = append(args, labID)
	}
	if kind != "" {
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)+1))
		args = append(args, kind)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Event
	for rows.Next() {
		var evt Event
		if err := rows.Scan(&evt.ID, &evt.Kind, &evt.LabID, &evt.ActorID, &evt.Detail, &evt.When, &evt.Recorded); err != nil {
			return nil, err
		}
		res = append(res, evt)
	}
	return res, rows.Err()
}
