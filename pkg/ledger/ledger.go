package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

type Status string

const (
	StatusPlanned   Status = "planned"
	StatusSubmitted Status = "submitted"
	StatusFired     Status = "fired"
	StatusMissed    Status = "missed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further scheduler interaction is expected.
func (s Status) Terminal() bool {
	switch s {
	case StatusFired, StatusMissed, StatusCancelled:
		return true
	}
	return false
}

type DayStatus string

const (
	DayOK       DayStatus = "ok"
	DayDegraded DayStatus = "degraded"
)

// Job is the persisted record of one toggle job.
type Job struct {
	Key       string
	Day       string
	At        time.Time
	State     string
	Kind      string
	Handle    string
	Status    Status
	Attempts  int
	Error     string
	UpdatedAt time.Time
}

type jobRow struct {
	Key       string `db:"job_key"`
	Day       string `db:"day"`
	At        int64  `db:"at_unix"`
	State     string `db:"state"`
	Kind      string `db:"kind"`
	Handle    string `db:"handle"`
	Status    string `db:"status"`
	Attempts  int    `db:"attempts"`
	Error     string `db:"error"`
	UpdatedAt int64  `db:"updated_unix"`
}

func (r jobRow) job() Job {
	return Job{
		Key:       r.Key,
		Day:       r.Day,
		At:        time.Unix(r.At, 0).UTC(),
		State:     r.State,
		Kind:      r.Kind,
		Handle:    r.Handle,
		Status:    Status(r.Status),
		Attempts:  r.Attempts,
		Error:     r.Error,
		UpdatedAt: time.Unix(r.UpdatedAt, 0).UTC(),
	}
}

type DayRecord struct {
	Day       string    `db:"day"`
	Status    DayStatus `db:"status"`
	Detail    string    `db:"detail"`
	UpdatedAt time.Time `db:"-"`
}

// Ledger persists job keys, day status and fetched price tables so that every
// run can rebuild its view of the external scheduler without process memory.
type Ledger struct {
	db  *sqlx.DB
	now func() time.Time
}

// Open connects to the sqlite database at path and creates missing tables.
func Open(path string) (*Ledger, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening ledger %s: %w", path, err)
	}
	l := &Ledger{db: db, now: time.Now}
	if err := l.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"path": path}).Debug("ledger: opened")
	return l, nil
}

func (l *Ledger) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		job_key TEXT PRIMARY KEY,
		day TEXT NOT NULL,
		at_unix INTEGER NOT NULL,
		state TEXT NOT NULL,
		kind TEXT NOT NULL,
		handle TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		updated_unix INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_day ON jobs (day);

	CREATE TABLE IF NOT EXISTS days (
		day TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		updated_unix INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_tables (
		day TEXT PRIMARY KEY,
		granularity_minutes INTEGER NOT NULL,
		intervals TEXT NOT NULL,
		updated_unix INTEGER NOT NULL
	);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("error creating ledger tables: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Get returns the job for key or nil when it is unknown.
func (l *Ledger) Get(ctx context.Context, key string) (*Job, error) {
	var row jobRow
	err := l.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE job_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading job %s: %w", key, err)
	}
	j := row.job()
	return &j, nil
}

// Claim records a new job in planned state. It returns false when the key
// already exists, in which case another run owns it.
func (l *Ledger) Claim(ctx context.Context, j Job) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
	INSERT INTO jobs (job_key, day, at_unix, state, kind, handle, status, attempts, error, updated_unix)
	VALUES (?, ?, ?, ?, ?, '', ?, 1, '', ?)
	ON CONFLICT(job_key) DO NOTHING`,
		j.Key, j.Day, j.At.Unix(), j.State, j.Kind, string(StatusPlanned), l.now().Unix())
	if err != nil {
		return false, fmt.Errorf("error claiming job %s: %w", j.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Reclaim takes over an existing job for resubmission. It only succeeds if
// neither the attempt counter nor the status changed since the job was read.
func (l *Ledger) Reclaim(ctx context.Context, key string, attempts int, from Status) (bool, error) {
	res, err := l.db.ExecContext(ctx, `
	UPDATE jobs SET attempts = attempts + 1, status = ?, error = '', updated_unix = ?
	WHERE job_key = ? AND attempts = ? AND status = ?`,
		string(StatusPlanned), l.now().Unix(), key, attempts, string(from))
	if err != nil {
		return false, fmt.Errorf("error reclaiming job %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Record inserts or overwrites a job regardless of its previous state. Used
// for terminal states that need no claim, like missed events.
func (l *Ledger) Record(ctx context.Context, j Job) error {
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO jobs (job_key, day, at_unix, state, kind, handle, status, attempts, error, updated_unix)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_key) DO UPDATE SET
		handle = CASE WHEN excluded.handle = '' THEN jobs.handle ELSE excluded.handle END,
		status = excluded.status,
		error = excluded.error,
		updated_unix = excluded.updated_unix`,
		j.Key, j.Day, j.At.Unix(), j.State, j.Kind, j.Handle, string(j.Status), j.Attempts, j.Error, l.now().Unix())
	if err != nil {
		return fmt.Errorf("error recording job %s: %w", j.Key, err)
	}
	return nil
}

func (l *Ledger) SetStatus(ctx context.Context, key string, status Status, handle, errMsg string) error {
	_, err := l.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, handle = CASE WHEN ? = '' THEN handle ELSE ? END, error = ?, updated_unix = ?
	WHERE job_key = ?`,
		string(status), handle, handle, errMsg, l.now().Unix(), key)
	if err != nil {
		return fmt.Errorf("error updating job %s to %s: %w", key, status, err)
	}
	return nil
}

// JobsForDay returns all jobs of day ordered by time.
func (l *Ledger) JobsForDay(ctx context.Context, day string) ([]Job, error) {
	var rows []jobRow
	err := l.db.SelectContext(ctx, &rows, `SELECT * FROM jobs WHERE day = ? ORDER BY at_unix, job_key`, day)
	if err != nil {
		return nil, fmt.Errorf("error listing jobs for %s: %w", day, err)
	}
	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, r.job())
	}
	return jobs, nil
}

func (l *Ledger) MarkDay(ctx context.Context, day string, status DayStatus, detail string) error {
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO days (day, status, detail, updated_unix) VALUES (?, ?, ?, ?)
	ON CONFLICT(day) DO UPDATE SET status = excluded.status, detail = excluded.detail, updated_unix = excluded.updated_unix`,
		day, string(status), detail, l.now().Unix())
	if err != nil {
		return fmt.Errorf("error marking day %s %s: %w", day, status, err)
	}
	return nil
}

// Day returns the status of day, or nil if it was never planned.
func (l *Ledger) Day(ctx context.Context, day string) (*DayRecord, error) {
	var row struct {
		Day     string `db:"day"`
		Status  string `db:"status"`
		Detail  string `db:"detail"`
		Updated int64  `db:"updated_unix"`
	}
	err := l.db.GetContext(ctx, &row, `SELECT day, status, detail, updated_unix FROM days WHERE day = ?`, day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading day %s: %w", day, err)
	}
	return &DayRecord{
		Day:       row.Day,
		Status:    DayStatus(row.Status),
		Detail:    row.Detail,
		UpdatedAt: time.Unix(row.Updated, 0).UTC(),
	}, nil
}

// DegradedDays lists days whose scheduling did not complete.
func (l *Ledger) DegradedDays(ctx context.Context) ([]string, error) {
	var days []string
	err := l.db.SelectContext(ctx, &days, `SELECT day FROM days WHERE status = ? ORDER BY day`, string(DayDegraded))
	if err != nil {
		return nil, fmt.Errorf("error listing degraded days: %w", err)
	}
	return days, nil
}

// Prune removes everything older than day (YYYY-MM-DD).
func (l *Ledger) Prune(ctx context.Context, before string) error {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"jobs", "days", "price_tables"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE day < ?", table), before); err != nil {
			return fmt.Errorf("error pruning %s: %w", table, err)
		}
	}
	return tx.Commit()
}
