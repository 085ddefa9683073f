package flow

import (
	"context"
	"sync"
)

// testJob is a minimal Job implementation for wiring assertions.
type testJob struct {
	name string
	deps []Job
}

func (j *testJob) Name() string { return j.name }

func (j *testJob) DependsOn(jobs ...Job) {
	j.deps = append(j.deps, jobs...)
}

// sampleHandler is a configurable sample-level stage handler. It records
// which samples were queued and can be told to fail.
type sampleHandler struct {
	prefix   string
	queueErr error
	withJobs bool
	queued   []string
}

func (h *sampleHandler) ExpectedOutputs(s *Sample) ExpectedOutput {
	return ExpectPath("/out/" + h.prefix + "/" + s.ID())
}

func (h *sampleHandler) QueueJobs(_ context.Context, s *Sample, inputs *StageInput) (*StageOutput, error) {
	if h.queueErr != nil {
		return nil, h.queueErr
	}
	h.queued = append(h.queued, s.ID())
	st := inputs.Stage()
	path := "/out/" + h.prefix + "/" + s.ID()
	if h.withJobs {
		j := &testJob{name: h.prefix + " " + s.ID()}
		return st.MakeOutputs(s, PathData(path), j), nil
	}
	return st.MakeOutputs(s, PathData(path)), nil
}

// cohortHandler is a configurable cohort-level stage handler.
type cohortHandler struct {
	prefix   string
	withJobs bool
	queued   int
	inputs   *StageInput
}

func (h *cohortHandler) ExpectedOutputs(c *Cohort) ExpectedOutput {
	return ExpectPath("/out/" + h.prefix + "/" + c.Name())
}

func (h *cohortHandler) QueueJobs(_ context.Context, c *Cohort, inputs *StageInput) (*StageOutput, error) {
	h.queued++
	h.inputs = inputs
	st := inputs.Stage()
	path := "/out/" + h.prefix + "/" + c.Name()
	if h.withJobs {
		j := &testJob{name: h.prefix + " " + c.Name()}
		return st.MakeOutputs(c, PathData(path), j), nil
	}
	return st.MakeOutputs(c, PathData(path)), nil
}

// mapChecker reports existence from a fixed set of paths and counts probes.
type mapChecker struct {
	mu       sync.Mutex
	existing map[string]bool
	calls    int
	err      error
}

func (c *mapChecker) Exists(_ context.Context, path string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return false, c.err
	}
	return c.existing[path], nil
}

// recordingReporter captures status reports in order.
type recordingReporter struct {
	mu      sync.Mutex
	reports []StatusReport
	err     error
}

func (r *recordingReporter) Report(_ context.Context, rep StatusReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reports = append(r.reports, rep)
	return nil
}

func (r *recordingReporter) byStatus(status string) []StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StatusReport
	for _, rep := range r.reports {
		if rep.Status == status {
			out = append(out, rep)
		}
	}
	return out
}

// newTestCohort builds a cohort with one dataset holding the given samples.
func newTestCohort(samples ...string) *Cohort {
	cohort := NewCohort("test-cohort")
	d := cohort.CreateDataset("test-dataset")
	for _, id := range samples {
		d.AddSample(id)
	}
	return cohort
}
