// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package history persists export runs in a SQLite database. The exporter
// uses the last written library version to make conditional requests.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/zotexport/pkg/types"
)

const defaultListLimit = 20

// timeLayout is fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store manages the export history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path, creating the parent
// directory and schema when missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			file TEXT NOT NULL,
			format TEXT NOT NULL,
			user_id TEXT NOT NULL,
			library_version INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_target ON runs(file, format, user_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Record inserts a finished run. Runs are immutable once recorded.
func (s *Store) Record(ctx context.Context, run types.ExportRun) error {
	if run.ID == "" {
		return fmt.Errorf("recording run: empty id")
	}
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, finished_at, file, format, user_id, library_version, bytes, status, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(timeLayout),
		finished,
		run.File,
		string(run.Format),
		run.UserID,
		int64(run.LibraryVersion),
		run.Bytes,
		string(run.Status),
		nullIfEmpty(run.Error),
	)
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.ID, err)
	}
	return nil
}

// LastWritten returns the most recent run that wrote file with the given
// format and user. ok is false when there is none.
func (s *Store) LastWritten(ctx context.Context, file string, format types.ExportFormat, userID string) (run types.ExportRun, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs
		 WHERE file = ? AND format = ? AND user_id = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`,
		file, string(format), userID, string(types.RunWritten))
	run, err = scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ExportRun{}, false, nil
	}
	if err != nil {
		return types.ExportRun{}, false, fmt.Errorf("querying last written run: %w", err)
	}
	return run, true, nil
}

// ListOptions filters List.
type ListOptions struct {
	// File restricts results to one export target when non-empty.
	File string

	// Limit caps the number of runs returned (default 20).
	Limit int
}

// List returns recorded runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]types.ExportRun, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.File != "" {
		query += ` WHERE file = ?`
		args = append(args, opts.File)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []types.ExportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

const runColumns = `id, started_at, finished_at, file, format, user_id, library_version, bytes, status, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (types.ExportRun, error) {
	var (
		run               types.ExportRun
		started           string
		finished, errText sql.NullString
		format, status    string
		version           int64
	)
	if err := sc.Scan(&run.ID, &started, &finished, &run.File, &format, &run.UserID, &version, &run.Bytes, &status, &errText); err != nil {
		return types.ExportRun{}, err
	}

	var err error
	if run.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return types.ExportRun{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if finished.Valid {
		if run.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return types.ExportRun{}, fmt.Errorf("parsing finished_at: %w", err)
		}
	}
	run.Format = types.ExportFormat(format)
	run.Status = types.RunStatus(status)
	run.LibraryVersion = uint64(version)
	run.Error = errText.String
	return run, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
