// Package batch provides an in-memory job graph for pipeline runs.
//
// Stage handlers create jobs on a Batch; the workflow driver wires
// dependencies between them. The batch does not execute anything itself: it
// models the handles a real backend would return, so dependency wiring and
// submission order can be built and inspected before anything runs.
package batch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stageflow/stageflow-go/flow"
)

// Batch collects jobs created during a run. Thread-safe.
type Batch struct {
	mu   sync.RWMutex
	name string
	jobs []*Job
}

// New creates an empty batch with a human-readable name.
func New(name string) *Batch {
	return &Batch{name: name}
}

// Name returns the batch name.
func (b *Batch) Name() string { return b.name }

// NewJob creates a job in this batch. Attributes tag the job for filtering
// and display; a copy is taken so the caller can reuse the map.
func (b *Batch) NewJob(name string, attrs map[string]string) *Job {
	j := &Job{
		id:    uuid.NewString(),
		name:  name,
		attrs: copyAttrs(attrs),
		seen:  make(map[string]bool),
	}
	b.mu.Lock()
	b.jobs = append(b.jobs, j)
	b.mu.Unlock()
	return j
}

// Jobs returns all jobs in creation order.
func (b *Batch) Jobs() []*Job {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]*Job(nil), b.jobs...)
}

// Job is a handle to one unit of queued work. It implements flow.Job.
type Job struct {
	mu      sync.Mutex
	id      string
	name    string
	attrs   map[string]string
	deps    []*Job
	seen    map[string]bool
	command string
}

var _ flow.Job = (*Job)(nil)

// ID returns the unique job identifier.
func (j *Job) ID() string { return j.id }

// Name returns the job name.
func (j *Job) Name() string { return j.name }

// Attrs returns a copy of the job's attributes.
func (j *Job) Attrs() map[string]string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return copyAttrs(j.attrs)
}

// SetCommand records the command this job would run.
func (j *Job) SetCommand(command string) {
	j.mu.Lock()
	j.command = command
	j.mu.Unlock()
}

// Command returns the recorded command.
func (j *Job) Command() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.command
}

// DependsOn marks the given jobs as prerequisites. Duplicate and nil
// dependencies are ignored, so callers can wire the same upstream set more
// than once without inflating the graph.
func (j *Job) DependsOn(jobs ...flow.Job) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, dep := range jobs {
		other, ok := dep.(*Job)
		if !ok || other == nil || other == j {
			continue
		}
		if j.seen[other.id] {
			continue
		}
		j.seen[other.id] = true
		j.deps = append(j.deps, other)
	}
}

// Dependencies returns the job's prerequisites in wiring order.
func (j *Job) Dependencies() []*Job {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]*Job(nil), j.deps...)
}

// String renders the job as "name (n deps)".
func (j *Job) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return fmt.Sprintf("%s (%d deps)", j.name, len(j.deps))
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
