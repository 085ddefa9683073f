package flow

import "context"

// Job is an opaque handle to a unit of externally-scheduled work.
//
// The core never inspects a handle beyond its name: it only records
// ordering constraints through DependsOn and passes handles to the status
// reporter. Implementations must make DependsOn idempotent and
// order-independent; the in-memory engine in package batch is the reference
// implementation.
type Job interface {
	// Name returns a human-readable job name, used for logging and status
	// reports.
	Name() string

	// DependsOn records that this job must not start before the given jobs
	// complete. Calling it twice with the same job has no further effect.
	DependsOn(jobs ...Job)
}

// ExistenceChecker is the external predicate for output existence.
//
// Exists must be side-effect-free from the engine's perspective. Errors are
// treated as fatal by the engine; transient-I/O retries, if any, belong to
// the implementation. The engine caches results per path for the lifetime
// of a run, so a path is probed at most once.
type ExistenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// ExistenceCheckerFunc adapts a plain function to ExistenceChecker.
type ExistenceCheckerFunc func(ctx context.Context, path string) (bool, error)

// Exists implements ExistenceChecker.
func (f ExistenceCheckerFunc) Exists(ctx context.Context, path string) (bool, error) {
	return f(ctx, path)
}

// StatusReport is the payload handed to a StatusReporter when a stage
// produces output for a target.
type StatusReport struct {
	// RunID identifies the workflow run.
	RunID string

	// Stage is the producing stage's name.
	Stage string

	// AnalysisType is the stage's declared analysis type.
	AnalysisType string

	// Status is the analysis status: "queued" for freshly queued work,
	// "completed" for reused outputs.
	Status string

	// Target is the target the output belongs to.
	Target Target

	// Output is the rendered output data.
	Output string

	// Jobs are the handles queued by the stage for this target.
	Jobs []Job

	// UpstreamJobs are the handles of upstream dependencies the new jobs
	// were wired to wait on.
	UpstreamJobs []Job

	// Meta is the output metadata, including job attributes.
	Meta map[string]interface{}
}

// StatusReporter receives analysis records for an external metadata service.
//
// Reporting is fire-and-forget from the engine's perspective: a reporter
// error is logged through the emitter but never aborts a successful stage.
type StatusReporter interface {
	Report(ctx context.Context, report StatusReport) error
}
