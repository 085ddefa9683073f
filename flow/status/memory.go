package status

import (
	"context"
	"sync"
	"time"

	"github.com/stageflow/stageflow-go/flow"
)

// MemReporter is an in-memory implementation of flow.StatusReporter.
//
// It keeps analysis records in a slice in insertion order. Designed for:
//   - Testing and development
//   - Single-process runs where persistence isn't required
//
// MemReporter is thread-safe. Data is lost when the process terminates; use
// SQLiteReporter or MySQLReporter when records must survive the run.
type MemReporter struct {
	mu       sync.RWMutex
	analyses []Analysis
	nextID   int64
}

// NewMemReporter creates a new in-memory reporter.
//
// Example:
//
//	reporter := status.NewMemReporter()
//	wf, err := flow.New(cohort, cfg, flow.WithStatusReporter(reporter))
func NewMemReporter() *MemReporter {
	return &MemReporter{nextID: 1}
}

// Report stores one analysis record.
func (m *MemReporter) Report(_ context.Context, rep flow.StatusReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := fromReport(rep)
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	m.nextID++
	m.analyses = append(m.analyses, a)
	return nil
}

// Analyses returns a copy of all stored records in insertion order.
func (m *MemReporter) Analyses() []Analysis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Analysis(nil), m.analyses...)
}

// ByStage returns the stored records for one stage, in insertion order.
func (m *MemReporter) ByStage(stage string) []Analysis {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Analysis
	for _, a := range m.analyses {
		if a.Stage == stage {
			out = append(out, a)
		}
	}
	return out
}

// ByRun returns the stored records for one run, in insertion order.
func (m *MemReporter) ByRun(runID string) []Analysis {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Analysis
	for _, a := range m.analyses {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out
}

// Clear drops all stored records.
func (m *MemReporter) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analyses = nil
}
