// Package runstore keeps a history of run summaries in SQLite.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	qerrors "github.com/odvcencio/qapilot/pkg/errors"
	"github.com/odvcencio/qapilot/pkg/report"
)

// RecentLimit is the number of runs returned with the aggregate summary.
const RecentLimit = 10

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("runstore: run not found")

// Record is one stored run without its issues.
type Record struct {
	ID         string    `json:"id"`
	RunID      string    `json:"runId"`
	Kind       string    `json:"kind"`
	Total      int       `json:"total"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	RunDir     string    `json:"runDir"`
	ReportPath string    `json:"reportPath"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Aggregate sums every stored run and lists the most recent ones.
type Aggregate struct {
	Runs   int      `json:"runs"`
	Total  int      `json:"total"`
	Passed int      `json:"passed"`
	Failed int      `json:"failed"`
	Recent []Record `json:"recent"`
}

// Store persists run summaries.
type Store struct {
	db *sql.DB
}

// Open opens (and creates, if needed) the database at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, qerrors.New(qerrors.ErrCodeConfigInvalid, "run store path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to create run store directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to open run store")
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to set busy timeout")
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to initialize run store schema")
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			total INTEGER NOT NULL,
			passed INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			run_dir TEXT NOT NULL,
			report_path TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			summary TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save stores summary and returns the record id.
func (s *Store) Save(ctx context.Context, summary *report.RunSummary) (string, error) {
	if summary == nil || summary.RunID == "" {
		return "", qerrors.New(qerrors.ErrCodeInvalidInput, "summary with a run id is required")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.ErrCodeInternal, "failed to marshal summary")
	}
	id := uuid.NewString()
	query := `
		INSERT INTO runs (id, run_id, kind, total, passed, failed, run_dir, report_path, started_at, finished_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		id,
		summary.RunID,
		summary.Kind,
		summary.Total,
		summary.Passed,
		summary.Failed,
		summary.RunDir,
		summary.ReportPath,
		summary.StartedAt.UnixMilli(),
		summary.FinishedAt.UnixMilli(),
		string(data),
	)
	if err != nil {
		return "", qerrors.Wrap(err, qerrors.ErrCodeStorageWrite, "failed to save run").WithContext("run_id", summary.RunID)
	}
	return id, nil
}

// Get returns the full summary of one run.
func (s *Store) Get(ctx context.Context, runID string) (*report.RunSummary, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM runs WHERE run_id = ?", runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to load run").WithContext("run_id", runID)
	}
	var summary report.RunSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "stored summary is corrupt").WithContext("run_id", runID)
	}
	return &summary, nil
}

// List returns up to limit runs, newest first. kind filters when non-empty.
func (s *Store) List(ctx context.Context, kind string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = RecentLimit
	}
	query := `
		SELECT id, run_id, kind, total, passed, failed, run_dir, report_path, started_at, finished_at
		FROM runs
		WHERE (? = '' OR kind = ?)
		ORDER BY started_at DESC, created_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, kind, kind, limit)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to list runs")
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var started, finished int64
		if err := rows.Scan(
			&r.ID,
			&r.RunID,
			&r.Kind,
			&r.Total,
			&r.Passed,
			&r.Failed,
			&r.RunDir,
			&r.ReportPath,
			&started,
			&finished,
		); err != nil {
			return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to scan run")
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to list runs")
	}
	return records, nil
}

// Summary aggregates every stored run and attaches the most recent ones.
func (s *Store) Summary(ctx context.Context) (*Aggregate, error) {
	agg := &Aggregate{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0), COALESCE(SUM(passed), 0), COALESCE(SUM(failed), 0)
		FROM runs
	`).Scan(&agg.Runs, &agg.Total, &agg.Passed, &agg.Failed)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.ErrCodeStorageRead, "failed to aggregate runs")
	}
	recent, err := s.List(ctx, "", RecentLimit)
	if err != nil {
		return nil, err
	}
	agg.Recent = recent
	return agg, nil
}
