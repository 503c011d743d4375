// Package store persists runs, transcripts, and research notes in a
// local SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"fathom/internal/logging"
	"fathom/internal/run"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL DEFAULT 'chat',
	query       TEXT NOT NULL DEFAULT '',
	answer      TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL REFERENCES runs(id),
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	tool_name TEXT NOT NULL DEFAULT '',
	call_id   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_run ON messages(run_id);

CREATE TABLE IF NOT EXISTS citations (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id  TEXT NOT NULL REFERENCES runs(id),
	url     TEXT NOT NULL,
	title   TEXT NOT NULL DEFAULT '',
	snippet TEXT NOT NULL DEFAULT '',
	UNIQUE(run_id, url)
);

CREATE TABLE IF NOT EXISTS sessions (
	id          TEXT PRIMARY KEY,
	query       TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	steps_done  INTEGER NOT NULL DEFAULT 0,
	steps_total INTEGER NOT NULL DEFAULT 0,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
`

// Note is a knowledge-base entry.
type Note struct {
	ID        int64
	Title     string
	Content   string
	Source    string
	CreatedAt time.Time
}

// RunRecord summarizes one persisted run.
type RunRecord struct {
	ID         string
	Kind       string
	Query      string
	Answer     string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// DB wraps *sql.DB for fathom storage. The schema is owned by the app.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database at path and applies the schema,
// creating the file if missing.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	logging.Store("opened database at %s", path)
	return &DB{db}, nil
}

// BeginRun records the start of a run.
func (d *DB) BeginRun(ctx context.Context, id, kind, query string) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO runs (id, kind, query, started_at) VALUES (?, ?, ?, ?)`,
		id, kind, query, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording run start: %w", err)
	}
	return nil
}

// FinishRun stores the outcome and the full transcript snapshot.
func (d *DB) FinishRun(ctx context.Context, snap run.Snapshot, status string) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET answer = ?, status = ?, finished_at = ? WHERE id = ?`,
		snap.FinalAnswer, status, now, snap.ID); err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}

	for _, m := range snap.Messages {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (run_id, role, content, tool_name, call_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			snap.ID, string(m.Role), m.Content, m.ToolName, m.CallID, m.Timestamp.UTC()); err != nil {
			return fmt.Errorf("storing message: %w", err)
		}
	}
	for _, c := range snap.Citations {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO citations (run_id, url, title, snippet) VALUES (?, ?, ?, ?)`,
			snap.ID, c.URL, c.Title, c.Snippet); err != nil {
			return fmt.Errorf("storing citation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.StoreDebug("run %s finished with status %s (%d messages, %d citations)",
		snap.ID, status, len(snap.Messages), len(snap.Citations))
	return nil
}

// GetRun loads one run record.
func (d *DB) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	var r RunRecord
	var finished sql.NullTime
	err := d.QueryRowContext(ctx,
		`SELECT id, kind, query, answer, status, started_at, finished_at FROM runs WHERE id = ?`,
		id).Scan(&r.ID, &r.Kind, &r.Query, &r.Answer, &r.Status, &r.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = &finished.Time
	}
	return &r, nil
}

// SaveSession upserts a research session checkpoint. Called at every
// state transition, so a crash leaves the last known state behind.
func (d *DB) SaveSession(ctx context.Context, id, query, state string, stepsDone, stepsTotal int) error {
	_, err := d.ExecContext(ctx,
		`INSERT INTO sessions (id, query, state, steps_done, steps_total, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   steps_done = excluded.steps_done,
		   steps_total = excluded.steps_total,
		   updated_at = excluded.updated_at`,
		id, query, state, stepsDone, stepsTotal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("checkpointing session: %w", err)
	}
	return nil
}

// SessionRecord is one persisted session checkpoint.
type SessionRecord struct {
	ID         string
	Query      string
	State      string
	StepsDone  int
	StepsTotal int
	UpdatedAt  time.Time
}

// GetSession loads a session checkpoint.
func (d *DB) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	var s SessionRecord
	err := d.QueryRowContext(ctx,
		`SELECT id, query, state, steps_done, steps_total, updated_at FROM sessions WHERE id = ?`,
		id).Scan(&s.ID, &s.Query, &s.State, &s.StepsDone, &s.StepsTotal, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// AddNote stores a knowledge-base entry.
func (d *DB) AddNote(ctx context.Context, title, content, source string) (int64, error) {
	res, err := d.ExecContext(ctx,
		`INSERT INTO notes (title, content, source, created_at) VALUES (?, ?, ?, ?)`,
		title, content, source, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("storing note: %w", err)
	}
	return res.LastInsertId()
}

// SearchNotes finds notes whose title or content contains the query,
// newest first.
func (d *DB) SearchNotes(ctx context.Context, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	rows, err := d.QueryContext(ctx,
		`SELECT id, title, content, source, created_at FROM notes
		 WHERE title LIKE ? OR content LIKE ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("searching notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.Source, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
