// Package history persists a local, append-only log of program
// operations: when an attempt started, what descriptor it targeted, and
// how it ended. Deprogram calls are not recorded, and the board_address
// column is left empty. A program attempt that dies mid-sector
// leaves the board's flash metadata matching no intended image; the log
// leaves a forensic trail on the controlling host, independent of
// whatever state is left on the board itself.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver with database/sql
)

// Recorder is a WAL-mode SQLite-backed append-only log. It is safe for
// concurrent use.
type Recorder struct {
	db *sql.DB
}

const ddl = `
CREATE TABLE IF NOT EXISTS program_history (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    correlation_id TEXT    NOT NULL,
    board_address  TEXT    NOT NULL DEFAULT '',
    md5            TEXT    NOT NULL,
    outcome        TEXT    NOT NULL DEFAULT 'started',
    detail         TEXT    NOT NULL DEFAULT '',
    started_at     TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    finished_at    TEXT
);
CREATE INDEX IF NOT EXISTS idx_program_history_correlation
    ON program_history (correlation_id);
`

// Open opens (or creates) the SQLite database at path and applies the
// schema. Pass ":memory:" for a throwaway database suitable for tests.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %q: %w", path, err)
	}

	// One writer at a time; avoids "database is locked" under concurrent
	// program attempts against different boards sharing one history file.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: apply schema: %w", err)
	}

	return &Recorder{db: db}, nil
}

// Close releases the underlying database connection.
func (r *Recorder) Close() error { return r.db.Close() }

// RecordStart inserts a row for a program attempt that is about to begin.
// Errors are discarded, not returned, since a history
// write failure must never block the board operation it's recording.
func (r *Recorder) RecordStart(ctx context.Context, correlationID, md5Hex string) {
	_, _ = r.db.ExecContext(ctx,
		`INSERT INTO program_history (correlation_id, md5, outcome) VALUES (?, ?, 'started')`,
		correlationID, md5Hex)
}

// RecordSuccess marks every row recorded under correlationID as succeeded.
func (r *Recorder) RecordSuccess(ctx context.Context, correlationID string) {
	r.finish(ctx, correlationID, "succeeded", "")
}

// RecordFailure marks every row recorded under correlationID as failed,
// recording detail (typically the error text) for later diagnosis.
func (r *Recorder) RecordFailure(ctx context.Context, correlationID, detail string) {
	r.finish(ctx, correlationID, "failed", detail)
}

func (r *Recorder) finish(ctx context.Context, correlationID, outcome, detail string) {
	_, _ = r.db.ExecContext(ctx,
		`UPDATE program_history
		 SET outcome = ?, detail = ?, finished_at = ?
		 WHERE correlation_id = ?`,
		outcome, detail, time.Now().UTC().Format(time.RFC3339Nano), correlationID)
}

// Entry is one row of the program history.
type Entry struct {
	CorrelationID string
	MD5           string
	Outcome       string
	Detail        string
	StartedAt     string
	FinishedAt    sql.NullString
}

// Recent returns the most recent n history entries, newest first.
func (r *Recorder) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT correlation_id, md5, outcome, detail, started_at, finished_at
		 FROM program_history ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.CorrelationID, &e.MD5, &e.Outcome, &e.Detail, &e.StartedAt, &e.FinishedAt); err != nil {
			return nil, fmt.Errorf("history: scan row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
