// Package journal keeps a SQLite log of every extraction run, successful
// or not, next to the on-disk archive.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id            TEXT PRIMARY KEY,
    folder        TEXT NOT NULL DEFAULT '',
    claim_number  TEXT NOT NULL DEFAULT '',
    vin           TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL CHECK (status IN ('ok', 'failed')),
    error_kind    TEXT NOT NULL DEFAULT '',
    message       TEXT NOT NULL DEFAULT '',
    zones         INTEGER NOT NULL DEFAULT 0,
    degraded      INTEGER NOT NULL DEFAULT 0,
    duration_ms   INTEGER NOT NULL DEFAULT 0,
    started_at    INTEGER NOT NULL,
    finished_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_folder ON runs(folder, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// Status is the outcome of a run.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Run is one journal row.
type Run struct {
	ID          string
	Folder      string
	ClaimNumber string
	VIN         string
	Status      Status
	ErrorKind   string
	Message     string
	Zones       int
	Degraded    int
	Duration    time.Duration
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Journal appends and queries runs.
type Journal struct {
	db    *sql.DB
	newID func() string
}

// Open opens (creating if needed) the journal database at path. Use
// ":memory:" for an ephemeral journal.
func Open(path string) (*Journal, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Journal{
		db:    db,
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}, nil
}

// Close closes the database.
func (j *Journal) Close() error { return j.db.Close() }

// Record stores r, assigning a UUIDv7 id when r.ID is empty. It returns
// the stored id.
func (j *Journal) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = j.newID()
	}
	if r.Status == "" {
		r.Status = StatusOK
	}
	if r.FinishedAt.IsZero() {
		r.FinishedAt = r.StartedAt.Add(r.Duration)
	}
	_, err := exec(ctx, j.db, `
		INSERT INTO runs (id, folder, claim_number, vin, status, error_kind, message,
		                  zones, degraded, duration_ms, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Folder, r.ClaimNumber, r.VIN, string(r.Status), r.ErrorKind, r.Message,
		r.Zones, r.Degraded, r.Duration.Milliseconds(),
		r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("journal: record: %w", err)
	}
	return r.ID, nil
}

// Recent returns up to limit runs, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Run, error) {
	return j.query(ctx, `SELECT `+columns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
}

// ForFolder returns up to limit runs that wrote to folder, newest first.
func (j *Journal) ForFolder(ctx context.Context, folder string, limit int) ([]Run, error) {
	return j.query(ctx, `SELECT `+columns+` FROM runs WHERE folder = ? ORDER BY started_at DESC, id DESC LIMIT ?`, folder, limit)
}

// Stats counts runs per status.
func (j *Journal) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("journal: stats: %w", err)
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var s string
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, fmt.Errorf("journal: stats: %w", err)
		}
		out[Status(s)] = n
	}
	return out, rows.Err()
}

const columns = `id, folder, claim_number, vin, status, error_kind, message,
	zones, degraded, duration_ms, started_at, finished_at`

func (j *Journal) query(ctx context.Context, q string, args ...any) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var status string
		var dur, started, finished int64
		if err := rows.Scan(&r.ID, &r.Folder, &r.ClaimNumber, &r.VIN, &status, &r.ErrorKind, &r.Message,
			&r.Zones, &r.Degraded, &dur, &started, &finished); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		r.Status = Status(status)
		r.Duration = time.Duration(dur) * time.Millisecond
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
