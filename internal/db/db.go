// Package db is the local run ledger: a SQLite file recording every command
// run, the issues it hit, and the SQL files applied to staging.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection to the SQLite ledger.
type DB struct {
	conn *sql.DB
}

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is one command execution.
type Run struct {
	ID        string
	Kind      string // extract, convert, deserialize, load, apply, ...
	TableName string
	Source    string
	Target    string
	Status    string // running, completed, failed
	RowsIn    int
	RowsOut   int
	Skipped   int
	Errors    int
	StartedAt string
	EndedAt   *string
	Detail    *string
}

// Duration returns the run time, or zero while the run is open.
func (r Run) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	start, err1 := time.Parse(time.RFC3339Nano, r.StartedAt)
	end, err2 := time.Parse(time.RFC3339Nano, *r.EndedAt)
	if err1 != nil || err2 != nil {
		return 0
	}
	return end.Sub(start)
}

// Tally is the final count for a run.
type Tally struct {
	RowsIn  int
	RowsOut int
	Skipped int
	Errors  int
	Detail  string
}

// Issue is a warning or error recorded during a run.
type Issue struct {
	ID        int64
	RunID     string
	Level     string // warn, error
	Line      int
	Message   string
	CreatedAt string
}

// Open creates a new DB connection and runs all pending migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := migrate(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &DB{conn: conn}, nil
}

func migrate(conn *sql.DB) error {
	fsys, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, conn, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for use by other packages if needed.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// --- Run Methods ---

const runColumns = `id, kind, table_name, source, target, status, rows_in, rows_out, skipped, errors, started_at, ended_at, detail`

func scanRun(scanner interface{ Scan(...any) error }, r *Run) error {
	return scanner.Scan(&r.ID, &r.Kind, &r.TableName, &r.Source, &r.Target, &r.Status, &r.RowsIn, &r.RowsOut, &r.Skipped, &r.Errors, &r.StartedAt, &r.EndedAt, &r.Detail)
}

// StartRun records a new running run and returns its ID. ID and StartedAt
// are filled in when empty.
func (d *DB) StartRun(r *Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt == "" {
		r.StartedAt = now()
	}
	r.Status = StatusRunning
	_, err := d.conn.Exec(
		`INSERT INTO runs (id, kind, table_name, source, target, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.TableName, r.Source, r.Target, r.Status, r.StartedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return r.ID, nil
}

// FinishRun closes a run with its final status and counts.
func (d *DB) FinishRun(id, status string, t Tally) error {
	var detail *string
	if t.Detail != "" {
		detail = &t.Detail
	}
	res, err := d.conn.Exec(
		`UPDATE runs SET status = ?, rows_in = ?, rows_out = ?, skipped = ?, errors = ?, ended_at = ?, detail = ? WHERE id = ?`,
		status, t.RowsIn, t.RowsOut, t.Skipped, t.Errors, now(), detail, id,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run %s: no such run", id)
	}
	return nil
}

// GetRun retrieves a run by ID or by a unique ID prefix. It returns nil when
// nothing matches.
func (d *DB) GetRun(id string) (*Run, error) {
	rows, err := d.conn.Query(`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? ORDER BY id = ? DESC LIMIT 2`, id, id+"%", id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	defer rows.Close() //nolint:errcheck

	var found []Run
	for rows.Next() {
		var r Run
		if err := scanRun(rows, &r); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	switch {
	case len(found) == 0:
		return nil, nil
	case found[0].ID == id || len(found) == 1:
		return &found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

// ListRuns returns runs ordered by started_at descending. An empty kind
// lists every kind.
func (d *DB) ListRuns(kind string, limit, offset int) ([]Run, error) {
	rows, err := d.conn.Query(
		`SELECT `+runColumns+` FROM runs WHERE (? = '' OR kind = ?) ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		kind, kind, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		if err := scanRun(rows, &r); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently started run of a kind and table, or
// nil when there is none.
func (d *DB) LatestRun(kind, table string) (*Run, error) {
	r := &Run{}
	row := d.conn.QueryRow(
		`SELECT `+runColumns+` FROM runs WHERE kind = ? AND table_name = ? ORDER BY started_at DESC LIMIT 1`,
		kind, table,
	)
	if err := scanRun(row, r); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return r, nil
}

// --- Issue Methods ---

// AddIssue records a warning or error against a run.
func (d *DB) AddIssue(runID, level string, line int, message string) error {
	_, err := d.conn.Exec(
		`INSERT INTO run_issues (run_id, level, line, message, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, level, line, message, now(),
	)
	if err != nil {
		return fmt.Errorf("insert issue for run %s: %w", runID, err)
	}
	return nil
}

// ListIssues returns the issues of a run in the order they were recorded.
func (d *DB) ListIssues(runID string, limit int) ([]Issue, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, level, line, message, created_at FROM run_issues WHERE run_id = ? ORDER BY id LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var issues []Issue
	for rows.Next() {
		var i Issue
		if err := rows.Scan(&i.ID, &i.RunID, &i.Level, &i.Line, &i.Message, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

// --- Applied File Methods ---

// MarkApplied records that the file with this content hash was applied.
func (d *DB) MarkApplied(path, sum, runID string) error {
	var run *string
	if runID != "" {
		run = &runID
	}
	_, err := d.conn.Exec(
		`INSERT INTO applied_files (path, sha256, run_id, applied_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path, sha256) DO UPDATE SET run_id = excluded.run_id, applied_at = excluded.applied_at`,
		path, sum, run, now(),
	)
	if err != nil {
		return fmt.Errorf("mark applied %s: %w", path, err)
	}
	return nil
}

// IsApplied reports whether the file was applied with this content hash.
func (d *DB) IsApplied(path, sum string) (bool, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM applied_files WHERE path = ? AND sha256 = ?`, path, sum).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check applied %s: %w", path, err)
	}
	return n > 0, nil
}
