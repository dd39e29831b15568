package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"hlsgate/internal/domain/stream"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	fingerprint TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	exit_code   INTEGER NOT NULL DEFAULT -1,
	error       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);
`

// Store records job transitions in SQLite. It is an audit trail, not the
// source of truth: the registry and the job directories are.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record upserts the latest state of a job. Entering StateCreating counts a
// new attempt and resets the creation time.
func (s *Store) Record(ctx context.Context, status stream.JobStatus) error {
	now := status.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	created := status.CreatedAt
	if created.IsZero() {
		created = now
	}
	attempt := 0
	if status.State == stream.StateCreating {
		attempt = 1
	}

	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
INSERT INTO jobs (fingerprint, source, state, attempts, exit_code, error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO UPDATE SET
	source     = excluded.source,
	state      = excluded.state,
	attempts   = jobs.attempts + excluded.attempts,
	exit_code  = excluded.exit_code,
	error      = excluded.error,
	created_at = CASE WHEN excluded.attempts > 0 THEN excluded.created_at ELSE jobs.created_at END,
	updated_at = excluded.updated_at`,
			string(status.Fingerprint),
			status.Source,
			string(status.State),
			attempt,
			status.ExitCode,
			status.Error,
			formatTime(created),
			formatTime(now),
		)
		return err
	})
}

// Get returns the journal row for fp.
func (s *Store) Get(ctx context.Context, fp stream.Fingerprint) (stream.JobStatus, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT fingerprint, source, state, attempts, exit_code, error, created_at, updated_at
FROM jobs WHERE fingerprint = ?`, string(fp))
	status, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return stream.JobStatus{}, false, nil
	}
	if err != nil {
		return stream.JobStatus{}, false, err
	}
	return status, true, nil
}

// List returns journal rows, most recently updated first. A non-positive
// limit returns every row.
func (s *Store) List(ctx context.Context, limit int) ([]stream.JobStatus, error) {
	query := `
SELECT fingerprint, source, state, attempts, exit_code, error, created_at, updated_at
FROM jobs ORDER BY updated_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []stream.JobStatus
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(row scanner) (stream.JobStatus, error) {
	var (
		status           stream.JobStatus
		fp, state        string
		created, updated string
	)
	if err := row.Scan(&fp, &status.Source, &state, &status.Attempts, &status.ExitCode, &status.Error, &created, &updated); err != nil {
		return stream.JobStatus{}, err
	}
	status.Fingerprint = stream.Fingerprint(fp)
	status.State = stream.JobState(state)
	status.CreatedAt = parseTime(created)
	status.UpdatedAt = parseTime(updated)
	return status, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
