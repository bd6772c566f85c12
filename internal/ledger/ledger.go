// Package ledger records batch submissions in a SQLite database inside the
// experiment directory so that re-invoking the start step can tell which
// runs are already queued on the cluster.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// FileName is the ledger's file name within the experiment directory.
const FileName = "jobs.db"

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
  run_id          TEXT PRIMARY KEY,
  submission_id   TEXT NOT NULL,
  job_id          TEXT NOT NULL DEFAULT '',
  scheduler_state TEXT NOT NULL DEFAULT '',
  attempts        INTEGER NOT NULL DEFAULT 0,
  submitted_at    TEXT NOT NULL DEFAULT '',
  finished_at     TEXT NOT NULL DEFAULT '',
  last_error      TEXT NOT NULL DEFAULT ''
);`

// Entry is one submission.
type Entry struct {
	RunID        string
	SubmissionID string
	JobID        string
	// SchedulerState is the last state reported by the scheduler, e.g.
	// PENDING or COMPLETED.
	SchedulerState string
	Attempts       int
	SubmittedAt    time.Time
	FinishedAt     time.Time
	LastError      string
}

// Finished reports whether the scheduler is done with the job.
func (e Entry) Finished() bool {
	return !e.FinishedAt.IsZero()
}

// Ledger is a handle on the jobs database. It is safe for concurrent use.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing ledger %s: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the entry for runID, or nil when there is none.
func (l *Ledger) Get(ctx context.Context, runID string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `SELECT run_id, submission_id, job_id, scheduler_state, attempts,
	       submitted_at, finished_at, last_error FROM jobs WHERE run_id = ?`, runID)
	e, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger entry %s: %w", runID, err)
	}
	return e, nil
}

// Put inserts or replaces the entry for e.RunID.
func (l *Ledger) Put(ctx context.Context, e Entry) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO jobs (run_id, submission_id, job_id, scheduler_state, attempts,
	       submitted_at, finished_at, last_error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	       ON CONFLICT(run_id) DO UPDATE SET submission_id = excluded.submission_id,
	       job_id = excluded.job_id, scheduler_state = excluded.scheduler_state,
	       attempts = excluded.attempts, submitted_at = excluded.submitted_at,
	       finished_at = excluded.finished_at, last_error = excluded.last_error`,
		e.RunID, e.SubmissionID, e.JobID, e.SchedulerState, e.Attempts,
		formatTime(e.SubmittedAt), formatTime(e.FinishedAt), e.LastError)
	if err != nil {
		return fmt.Errorf("writing ledger entry %s: %w", e.RunID, err)
	}
	return nil
}

// UpdateState records the scheduler state of a job, marking it finished
// when finished is set.
func (l *Ledger) UpdateState(ctx context.Context, runID, state string, finished bool) error {
	var err error
	if finished {
		_, err = l.db.ExecContext(ctx, `UPDATE jobs SET scheduler_state = ?, finished_at = ? WHERE run_id = ?`,
			state, formatTime(time.Now()), runID)
	} else {
		_, err = l.db.ExecContext(ctx, `UPDATE jobs SET scheduler_state = ? WHERE run_id = ?`, state, runID)
	}
	if err != nil {
		return fmt.Errorf("updating ledger entry %s: %w", runID, err)
	}
	return nil
}

// List returns all entries ordered by run id.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT run_id, submission_id, job_id, scheduler_state, attempts,
	       submitted_at, finished_at, last_error FROM jobs ORDER BY run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*Entry, error) {
	var e Entry
	var submitted, finished string
	if err := s.Scan(&e.RunID, &e.SubmissionID, &e.JobID, &e.SchedulerState, &e.Attempts,
		&submitted, &finished, &e.LastError); err != nil {
		return nil, err
	}
	var err error
	if e.SubmittedAt, err = parseTime(submitted); err != nil {
		return nil, err
	}
	if e.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}
	return &e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
