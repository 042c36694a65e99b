// File: internal/journal/journal.go
// Brief: SQLite journal of publish attempts, used to resume partial releases.

package journal

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// RelPath is the journal location below the workspace root.
const RelPath = ".dragons/state.sqlite"

// Attempt outcomes.
const (
	StatusPublished = "published"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusDryRun    = "dry-run"
)

// Attempt is one recorded publish of one package.
type Attempt struct {
	RunID   string
	Name    string
	Version string
	Status  string
	Message string
	At      time.Time
}

// Run summarizes one release invocation.
type Run struct {
	ID        string
	Status    string
	Packages  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is an open journal.
type Store struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open opens the journal below root, creating it unless readOnly.
func Open(root string, readOnly bool) (*Store, error) {
	return OpenPath(filepath.Join(root, RelPath), readOnly)
}

// OpenPath opens the journal stored at path.
func OpenPath(path string, readOnly bool) (*Store, error) {
	path, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := path
	if readOnly {
		u := url.URL{Scheme: "file", Path: path}
		q := u.Query()
		q.Set("mode", "ro")
		q.Set("_busy_timeout", "5000")
		u.RawQuery = q.Encode()
		dsn = u.String()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path, readOnly: readOnly}
	if !readOnly {
		if err := s.initSchema(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if !s.readOnly {
		// Fold the WAL back so the journal stays a single file.
		_, _ = s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE);`)
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA foreign_keys=ON;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS dragons_release_runs (
  run_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  created_at_ns INTEGER NOT NULL,
  updated_at_ns INTEGER NOT NULL,
  packages_json TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS dragons_publish_attempts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  name TEXT NOT NULL,
  version TEXT NOT NULL,
  status TEXT NOT NULL,
  message TEXT NOT NULL,
  ts_ns INTEGER NOT NULL,
  FOREIGN KEY (run_id) REFERENCES dragons_release_runs(run_id) ON DELETE CASCADE
);`,
		`CREATE INDEX IF NOT EXISTS idx_dragons_attempts_pkg ON dragons_publish_attempts(name, version, status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// NewRunID returns a sortable, unique run identifier.
func NewRunID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return now.UTC().Format("20060102T150405Z") + "-" + hex.EncodeToString(b[:])
}

// BeginRun records a release of packages, given as `name@version` in order.
func (s *Store) BeginRun(ctx context.Context, runID string, packages []string) error {
	raw, err := json.Marshal(packages)
	if err != nil {
		return err
	}
	now := time.Now().UTC().UnixNano()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO dragons_release_runs (run_id, status, created_at_ns, updated_at_ns, packages_json)
VALUES (?, ?, ?, ?, ?)
`, runID, "running", now, now, string(raw))
	return err
}

// FinishRun sets the final status of a run.
func (s *Store) FinishRun(ctx context.Context, runID, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE dragons_release_runs SET status = ?, updated_at_ns = ? WHERE run_id = ?`,
		status, time.Now().UTC().UnixNano(), runID)
	return err
}

// Record appends one attempt.
func (s *Store) Record(ctx context.Context, a Attempt) error {
	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO dragons_publish_attempts (run_id, name, version, status, message, ts_ns)
VALUES (?, ?, ?, ?, ?, ?)
`, a.RunID, a.Name, a.Version, a.Status, strings.TrimSpace(a.Message), at.UTC().UnixNano())
	if err != nil {
		return err
	}
	_, _ = s.db.ExecContext(ctx, `UPDATE dragons_release_runs SET updated_at_ns = ? WHERE run_id = ?`, time.Now().UTC().UnixNano(), a.RunID)
	return nil
}

// Published returns the `name@version` pairs any run published.
func (s *Store) Published(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT name, version FROM dragons_publish_attempts WHERE status = ?`, StatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var name, version string
		if err := rows.Scan(&name, &version); err != nil {
			return nil, err
		}
		out[name+"@"+version] = true
	}
	return out, rows.Err()
}

// Attempts lists the attempts of a run in order.
func (s *Store) Attempts(ctx context.Context, runID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, name, version, status, message, ts_ns FROM dragons_publish_attempts WHERE run_id = ? ORDER BY id
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Attempt
	for rows.Next() {
		var a Attempt
		var ts int64
		if err := rows.Scan(&a.RunID, &a.Name, &a.Version, &a.Status, &a.Message, &ts); err != nil {
			return nil, err
		}
		a.At = time.Unix(0, ts).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, status, created_at_ns, updated_at_ns, packages_json FROM dragons_release_runs
ORDER BY created_at_ns DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var r Run
		var created, updated int64
		var pkgs string
		if err := rows.Scan(&r.ID, &r.Status, &created, &updated, &pkgs); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(pkgs), &r.Packages)
		r.CreatedAt, r.UpdatedAt = time.Unix(0, created).UTC(), time.Unix(0, updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
