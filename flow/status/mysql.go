package status

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/stageflow/stageflow-go/flow"
)

// MySQLReporter is a MySQL/MariaDB implementation of flow.StatusReporter.
//
// It stores analysis records in a relational database. Designed for:
//   - Shared deployments where several machines run pipelines
//   - Audit trails that must survive any single host
//
// MySQLReporter uses connection pooling and verifies the connection at
// construction time.
//
// Schema:
//   - analyses: one row per queued or completed analysis
type MySQLReporter struct {
	db     *sql.DB
	mu     sync.Mutex
	closed bool
}

// NewMySQLReporter creates a new MySQL-backed reporter.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...]
//
// Never hardcode credentials; read the DSN from the environment:
//
//	dsn := os.Getenv("MYSQL_DSN")
//	if dsn == "" {
//	    log.Fatal("MYSQL_DSN environment variable not set")
//	}
//	reporter, err := status.NewMySQLReporter(dsn)
func NewMySQLReporter(dsn string) (*MySQLReporter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	r := &MySQLReporter{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return r, nil
}

func (r *MySQLReporter) createTables(ctx context.Context) error {
	analysesTable := `
		CREATE TABLE IF NOT EXISTS analyses (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			stage VARCHAR(255) NOT NULL,
			analysis_type VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			target_id VARCHAR(255) NOT NULL,
			output TEXT NOT NULL,
			jobs JSON NOT NULL,
			upstream_jobs JSON NOT NULL,
			meta JSON NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_analyses_run_id (run_id),
			INDEX idx_analyses_run_stage (run_id, stage)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci
	`
	if _, err := r.db.ExecContext(ctx, analysesTable); err != nil {
		return fmt.Errorf("failed to create analyses table: %w", err)
	}
	return nil
}

// Report stores one analysis record.
func (r *MySQLReporter) Report(ctx context.Context, rep flow.StatusReport) error {
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
func (r *MySQLReporter) ByRun(ctx context.Context, runID string) ([]Analysis, error) {
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
func (r *MySQLReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close MySQL connection: %w", err)
	}
	return nil
}
