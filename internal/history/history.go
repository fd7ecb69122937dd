// Package history keeps a local SQLite log of update attempts so support can
// see what the launcher tried, when, and how it ended.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly
)

// Outcome values stored for an attempt.
const (
	OutcomeUpToDate = "up_to_date"
	OutcomeUpdated  = "updated"
	OutcomeFailed   = "failed"
)

// DefaultLimit is the number of attempts Recent returns when limit <= 0.
const DefaultLimit = 20

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id           TEXT PRIMARY KEY,
	started_at   TEXT NOT NULL,
	finished_at  TEXT NOT NULL,
	from_version TEXT NOT NULL DEFAULT '',
	to_version   TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL DEFAULT '',
	outcome      TEXT NOT NULL,
	stage        TEXT NOT NULL DEFAULT '',
	error_code   TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON attempts(started_at);
`

// Attempt is one finished update attempt.
type Attempt struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	FromVersion string
	ToVersion   string
	Source      string
	Outcome     string
	Stage       string
	ErrorCode   string
	Error       string
}

// Duration returns how long the attempt took.
func (a Attempt) Duration() time.Duration {
	if a.FinishedAt.Before(a.StartedAt) {
		return 0
	}
	return a.FinishedAt.Sub(a.StartedAt)
}

// Store is an open attempt log.
type Store struct {
	path string
	db   *sql.DB
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(3000)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Open opens (creating if needed) the attempt log at path.
func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("history database path is empty")
	}
	//nolint:gosec // G301: history lives beside the downloads
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{path: trimmed, db: db}, nil
}

// Path returns the database file.
func (s *Store) Path() string {
	return s.path
}

// Record stores a finished attempt. Recording the same ID twice replaces it.
func (s *Store) Record(ctx context.Context, a Attempt) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("attempt id is empty")
	}
	if strings.TrimSpace(a.Outcome) == "" {
		return fmt.Errorf("attempt %s has no outcome", a.ID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO attempts
			(id, started_at, finished_at, from_version, to_version, source, outcome, stage, error_code, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		formatTime(a.StartedAt),
		formatTime(a.FinishedAt),
		a.FromVersion,
		a.ToVersion,
		a.Source,
		a.Outcome,
		a.Stage,
		a.ErrorCode,
		a.Error,
	)
	if err != nil {
		return fmt.Errorf("record attempt %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit attempts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Attempt, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, from_version, to_version, source, outcome, stage, error_code, error
		FROM attempts
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var attempts []Attempt
	for rows.Next() {
		var (
			a                 Attempt
			started, finished string
		)
		if err := rows.Scan(&a.ID, &started, &finished, &a.FromVersion, &a.ToVersion, &a.Source, &a.Outcome, &a.Stage, &a.ErrorCode, &a.Error); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.StartedAt = parseTime(started)
		a.FinishedAt = parseTime(finished)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
