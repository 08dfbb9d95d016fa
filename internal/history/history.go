// Package history archives finished sync runs.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/s3sync/internal/db"
	"github.com/openmined/s3sync/internal/sync"
	"github.com/openmined/s3sync/internal/utils"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id TEXT PRIMARY KEY,
    folder TEXT NOT NULL,
    bucket TEXT NOT NULL,
    prefix TEXT NOT NULL,
    direction TEXT NOT NULL,
    state TEXT NOT NULL,
    error TEXT NOT NULL,
    dry_run INTEGER NOT NULL,
    started_at TEXT NOT NULL, -- UTC, fixed width
    finished_at TEXT NOT NULL,
    succeeded INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    skipped INTEGER NOT NULL,
    retries INTEGER NOT NULL,
    bytes_moved INTEGER NOT NULL,
    failed_paths TEXT NOT NULL -- JSON object path -> reason
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON sync_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_folder ON sync_runs(folder, started_at);
`

// fixed width so that text ordering is chronological
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var ErrNotFound = errors.New("run not found")

type dbRun struct {
	ID          string `db:"id"`
	Folder      string `db:"folder"`
	Bucket      string `db:"bucket"`
	Prefix      string `db:"prefix"`
	Direction   string `db:"direction"`
	State       string `db:"state"`
	Error       string `db:"error"`
	DryRun      bool   `db:"dry_run"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	Succeeded   int    `db:"succeeded"`
	Failed      int    `db:"failed"`
	Skipped     int    `db:"skipped"`
	Retries     int    `db:"retries"`
	BytesMoved  int64  `db:"bytes_moved"`
	FailedPaths string `db:"failed_paths"`
}

// Entry is one archived run.
type Entry struct {
	ID          string            `json:"id"`
	Folder      string            `json:"folder"`
	Bucket      string            `json:"bucket"`
	Prefix      string            `json:"prefix,omitempty"`
	Direction   string            `json:"direction"`
	State       string            `json:"state"`
	Error       string            `json:"error,omitempty"`
	DryRun      bool              `json:"dryRun,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	FinishedAt  time.Time         `json:"finishedAt"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	Skipped     int               `json:"skipped"`
	Retries     int               `json:"retries"`
	BytesMoved  int64             `json:"bytesMoved"`
	FailedPaths map[string]string `json:"failedPaths,omitempty"`
}

func (e *Entry) Duration() time.Duration {
	return e.FinishedAt.Sub(e.StartedAt)
}

type Store struct {
	db *sqlx.DB
}

// Open opens the history database at path, creating it if needed.
func Open(path string) (*Store, error) {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	conn, err := db.Open(db.WithPath(path), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	s, err := New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// New uses an already open database.
func New(conn *sqlx.DB) (*Store, error) {
	if err := db.Migrate(conn, "sync_runs", schemaVersion, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return &Store{db: conn}, nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close history database", "error", err)
		return err
	}
	return nil
}

// Archive implements sync.Archiver.
func (s *Store) Archive(ctx context.Context, r *sync.Report) error {
	failed, err := json.Marshal(r.Failed)
	if err != nil {
		return fmt.Errorf("failed to encode failed paths: %w", err)
	}

	row := dbRun{
		ID:          r.RunID,
		Folder:      r.Folder,
		Bucket:      r.Bucket,
		Prefix:      r.Prefix,
		Direction:   string(r.Direction),
		State:       string(r.State),
		Error:       r.Error,
		DryRun:      r.DryRun,
		StartedAt:   formatTime(r.StartedAt),
		FinishedAt:  formatTime(r.FinishedAt),
		Succeeded:   len(r.Succeeded),
		Failed:      len(r.Failed),
		Skipped:     len(r.Skipped),
		Retries:     r.Retries,
		BytesMoved:  r.BytesMoved,
		FailedPaths: string(failed),
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT OR REPLACE INTO sync_runs (
			id, folder, bucket, prefix, direction, state, error, dry_run, started_at, finished_at,
			succeeded, failed, skipped, retries, bytes_moved, failed_paths
		) VALUES (
			:id, :folder, :bucket, :prefix, :direction, :state, :error, :dry_run, :started_at, :finished_at,
			:succeeded, :failed, :skipped, :retries, :bytes_moved, :failed_paths
		)`, row)
	if err != nil {
		return fmt.Errorf("failed to archive run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty folder matches
// every folder.
func (s *Store) Recent(ctx context.Context, folder string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []dbRun
	var err error
	if folder == "" {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM sync_runs ORDER BY started_at DESC LIMIT ?", limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, "SELECT * FROM sync_runs WHERE folder = ? ORDER BY started_at DESC LIMIT ?", folder, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	entries := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var row dbRun
	if err := s.db.GetContext(ctx, &row, "SELECT * FROM sync_runs WHERE id = ?", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	return row.toEntry()
}

// Prune keeps the newest keep runs and deletes the rest.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sync_runs WHERE id NOT IN (
			SELECT id FROM sync_runs ORDER BY started_at DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

func (r dbRun) toEntry() (*Entry, error) {
	started, err := time.Parse(timeLayout, r.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at for %s: %w", r.ID, err)
	}
	finished, err := time.Parse(timeLayout, r.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse finished_at for %s: %w", r.ID, err)
	}

	var failed map[string]string
	if r.FailedPaths != "" {
		if err := json.Unmarshal([]byte(r.FailedPaths), &failed); err != nil {
			return nil, fmt.Errorf("failed to decode failed paths for %s: %w", r.ID, err)
		}
	}

	return &Entry{
		ID:          r.ID,
		Folder:      r.Folder,
		Bucket:      r.Bucket,
		Prefix:      r.Prefix,
		Direction:   r.Direction,
		State:       r.State,
		Error:       r.Error,
		DryRun:      r.DryRun,
		StartedAt:   started,
		FinishedAt:  finished,
		Succeeded:   r.Succeeded,
		Failed:      r.Failed,
		Skipped:     r.Skipped,
		Retries:     r.Retries,
		BytesMoved:  r.BytesMoved,
		FailedPaths: failed,
	}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

var _ sync.Archiver = (*Store)(nil)
