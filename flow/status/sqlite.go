package status

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stageflow/stageflow-go/flow"
)

// SQLiteReporter is a SQLite implementation of flow.StatusReporter.
//
// It stores analysis records in a single-file database. Designed for:
//   - Development and testing with zero setup
//   - Single-machine pipelines that need records to survive the process
//
// SQLiteReporter uses WAL mode for concurrent reads and a busy timeout so
// overlapping runs on the same file do not fail immediately.
//
// Schema:
//   - analyses: one row per queued or completed analysis
type SQLiteReporter struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
	path   string
}

// NewSQLiteReporter creates a new SQLite-backed reporter.
//
// The path parameter specifies the database file location:
//   - "./pipeline.db" - file in current directory
//   - ":memory:" - in-memory database (data lost on close)
//
// The reporter creates the database file and the analyses table on first
// use.
//
// Example:
//
//	reporter, err := status.NewSQLiteReporter("./pipeline.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer reporter.Close()
func NewSQLiteReporter(path string) (*SQLiteReporter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	r := &SQLiteReporter{db: db, path: path}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return r, nil
}

func (r *SQLiteReporter) createTables(ctx context.Context) error {
	analysesTable := `
		CREATE TABLE IF NOT EXISTS analyses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			analysis_type TEXT NOT NULL,
			status TEXT NOT NULL,
			target_id TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			jobs TEXT NOT NULL DEFAULT '[]',
			upstream_jobs TEXT NOT NULL DEFAULT '[]',
			meta TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := r.db.ExecContext(ctx, analysesTable); err != nil {
		return fmt.Errorf("failed to create analyses table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_analyses_run_id ON analyses(run_id)"); err != nil {
		return fmt.Errorf("failed to create idx_analyses_run_id: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_analyses_run_stage ON analyses(run_id, stage)"); err != nil {
		return fmt.Errorf("failed to create idx_analyses_run_stage: %w", err)
	}
	return nil
}

// Report stores one analysis record.
func (r *SQLiteReporter) Report(ctx context.Context, rep flow.StatusReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reporter is closed")
	}

	a := fromReport(rep)
	jobs, upstream, meta, err := encodeJSONColumns(a)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO analyses (run_id, stage, analysis_type, status, target_id, output, jobs, upstream_jobs, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Stage, a.Type, a.Status, a.TargetID, a.Output, jobs, upstream, meta)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

// ByRun returns the stored records for one run in insertion order.
func (r *SQLiteReporter) ByRun(ctx context.Context, runID string) ([]Analysis, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, run_id, stage, analysis_type, status, target_id, output, jobs, upstream_jobs, meta, created_at
		FROM analyses WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()
	return scanAnalyses(rows)
}

// Close closes the database connection.
func (r *SQLiteReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close SQLite connection: %w", err)
	}
	return nil
}

func encodeJSONColumns(a Analysis) (jobs, upstream, meta string, err error) {
	jobsJSON, err := json.Marshal(stringsOrEmpty(a.JobNames))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal job names: %w", err)
	}
	upstreamJSON, err := json.Marshal(stringsOrEmpty(a.UpstreamJobs))
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal upstream job names: %w", err)
	}
	metaMap := a.Meta
	if metaMap == nil {
		metaMap = map[string]interface{}{}
	}
	metaJSON, err := json.Marshal(metaMap)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal meta: %w", err)
	}
	return string(jobsJSON), string(upstreamJSON), string(metaJSON), nil
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanAnalyses(rows *sql.Rows) ([]Analysis, error) {
	var out []Analysis
	for rows.Next() {
		var a Analysis
		var jobs, upstream, meta string
		var created sql.NullString
		if err := rows.Scan(&a.ID, &a.RunID, &a.Stage, &a.Type, &a.Status, &a.TargetID, &a.Output, &jobs, &upstream, &meta, &created); err != nil {
			return nil, fmt.Errorf("failed to scan analysis row: %w", err)
		}
		if created.Valid {
			// Drivers disagree on timestamp formats; a value that does
			// not parse leaves CreatedAt zero rather than failing.
			if t, err := parseTimestamp(created.String); err == nil {
				a.CreatedAt = t
			}
		}
		if err := json.Unmarshal([]byte(jobs), &a.JobNames); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job names: %w", err)
		}
		if err := json.Unmarshal([]byte(upstream), &a.UpstreamJobs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal upstream job names: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &a.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate analysis rows: %w", err)
	}
	return out, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format: %q", s)
}
