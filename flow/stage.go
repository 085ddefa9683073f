package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Level is the target granularity a stage operates on.
type Level int

const (
	// LevelSample stages run once per sample.
	LevelSample Level = iota

	// LevelDataset stages run once per dataset.
	LevelDataset

	// LevelCohort stages run once for the whole cohort.
	LevelCohort
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelSample:
		return "sample"
	case LevelDataset:
		return "dataset"
	case LevelCohort:
		return "cohort"
	default:
		return "unknown"
	}
}

// SampleHandler is the user-supplied logic of a sample-level stage.
//
// ExpectedOutputs must be pure: it is called both during decision-making and
// during reuse synthesis. QueueJobs is called only when the engine decides
// to queue fresh work; it receives the aggregated upstream inputs and is
// expected to hand work to the job engine and return the resulting output.
// Returning a nil output is allowed and records nothing for the target.
type SampleHandler interface {
	ExpectedOutputs(s *Sample) ExpectedOutput
	QueueJobs(ctx context.Context, s *Sample, inputs *StageInput) (*StageOutput, error)
}

// DatasetHandler is the user-supplied logic of a dataset-level stage.
type DatasetHandler interface {
	ExpectedOutputs(d *Dataset) ExpectedOutput
	QueueJobs(ctx context.Context, d *Dataset, inputs *StageInput) (*StageOutput, error)
}

// CohortHandler is the user-supplied logic of a cohort-level stage.
type CohortHandler interface {
	ExpectedOutputs(c *Cohort) ExpectedOutput
	QueueJobs(ctx context.Context, c *Cohort, inputs *StageInput) (*StageOutput, error)
}

// StageSpec declares a stage: its name, upstream dependencies, flags, and
// exactly one level handler. Specs are registered with a Registry and
// instantiated into Stage objects when a workflow resolves its graph.
type StageSpec struct {
	// Name uniquely identifies the stage. Duplicate names are fatal.
	Name string

	// RequiredStages names the stages whose outputs this stage consumes.
	// The set declared here must match the stages actually queried at
	// runtime; querying an undeclared stage is a fatal error.
	RequiredStages []string

	// AnalysisType, when set together with a workflow StatusReporter,
	// causes produced outputs to be reported to the metadata service.
	AnalysisType string

	// Skipped declares the stage skipped at declaration time: its outputs
	// are expected to exist from a previous run.
	Skipped bool

	// Forced re-runs the stage even when outputs could be reused.
	Forced bool

	// AssumeOutputsExist suppresses existence checks for the stage.
	AssumeOutputsExist bool

	// Exactly one of the three handlers must be set.
	Sample  SampleHandler
	Dataset DatasetHandler
	Cohort  CohortHandler
}

// level returns the granularity implied by the populated handler, or an
// INVALID_SPEC error when not exactly one handler is set.
func (s StageSpec) level() (Level, error) {
	var (
		level Level
		n     int
	)
	if s.Sample != nil {
		level, n = LevelSample, n+1
	}
	if s.Dataset != nil {
		level, n = LevelDataset, n+1
	}
	if s.Cohort != nil {
		level, n = LevelCohort, n+1
	}
	if n != 1 {
		return 0, &WorkflowError{
			Message: fmt.Sprintf("stage %q must set exactly one of Sample, Dataset, Cohort handlers, got %d", s.Name, n),
			Code:    CodeInvalidSpec,
		}
	}
	return level, nil
}

// Registry holds declared stage specs in registration order.
//
// A registry is an explicit object rather than hidden package state so that
// tests can create isolated registries; the package-level default registry
// exists for the common single-pipeline process and has a Reset hook for
// test teardown.
type Registry struct {
	mu    sync.Mutex
	order []string
	specs map[string]StageSpec
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{specs: make(map[string]StageSpec)}
}

// Register adds a stage spec. It returns a DUPLICATE_STAGE error when the
// name is already taken and an INVALID_SPEC error when the spec has no name
// or not exactly one handler.
func (r *Registry) Register(spec StageSpec) error {
	if spec.Name == "" {
		return &WorkflowError{Message: "stage name cannot be empty", Code: CodeInvalidSpec}
	}
	if _, err := spec.level(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.specs[spec.Name]; exists {
		return &WorkflowError{
			Message: "stage " + spec.Name + " is already registered",
			Code:    CodeDuplicateStage,
		}
	}
	r.specs[spec.Name] = spec
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister is Register that panics on error, for package init blocks.
func (r *Registry) MustRegister(spec StageSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Names returns the registered stage names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Reset removes all registered specs. Intended for test isolation.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.specs = make(map[string]StageSpec)
}

// lookup returns the spec registered under name.
func (r *Registry) lookup(name string) (StageSpec, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec, ok := r.specs[name]
	return spec, ok
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process-wide registry used by workflows that
// were not given an explicit one.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds a stage spec to the default registry.
func Register(spec StageSpec) error { return defaultRegistry.Register(spec) }

// MustRegister adds a stage spec to the default registry, panicking on error.
func MustRegister(spec StageSpec) { defaultRegistry.MustRegister(spec) }

// ResetRegistry clears the default registry. Intended for test isolation.
func ResetRegistry() { defaultRegistry.Reset() }

// Stage is the runtime instance of a registered spec, bound to one workflow
// run. The resolver mutates its flags during graph construction; afterwards
// the driver writes its output map exactly once per target.
type Stage struct {
	spec  StageSpec
	level Level
	wf    *Workflow

	required []*Stage

	skipped            bool
	forced             bool
	assumeOutputsExist bool

	outputByTarget map[string]*StageOutput
	outputOrder    []string
}

func newStage(wf *Workflow, spec StageSpec) (*Stage, error) {
	level, err := spec.level()
	if err != nil {
		return nil, err
	}
	return &Stage{
		spec:               spec,
		level:              level,
		wf:                 wf,
		skipped:            spec.Skipped,
		forced:             spec.Forced,
		assumeOutputsExist: spec.AssumeOutputsExist,
		outputByTarget:     make(map[string]*StageOutput),
	}, nil
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.spec.Name }

// Level returns the target granularity the stage operates on.
func (s *Stage) Level() Level { return s.level }

// Skipped reports whether the stage is skipped (declared, configured, or
// pulled in implicitly).
func (s *Stage) Skipped() bool { return s.skipped }

// Forced reports whether the stage re-runs regardless of reuse eligibility.
func (s *Stage) Forced() bool { return s.forced }

// AssumeOutputsExist reports whether existence checks are suppressed.
func (s *Stage) AssumeOutputsExist() bool { return s.assumeOutputsExist }

// Required returns the resolved upstream stages, in declaration order.
func (s *Stage) Required() []*Stage { return append([]*Stage(nil), s.required...) }

// OutputFor returns the recorded output for a target ID, if any.
func (s *Stage) OutputFor(targetID string) (*StageOutput, bool) {
	out, ok := s.outputByTarget[targetID]
	return out, ok && out != nil
}

// String renders the stage with its flags and dependencies, for logging.
func (s *Stage) String() string {
	var b strings.Builder
	b.WriteString(s.spec.Name)
	if s.skipped {
		b.WriteString(" [skipped]")
	}
	if s.forced {
		b.WriteString(" [forced]")
	}
	if s.assumeOutputsExist {
		b.WriteString(" [assume_outputs_exist]")
	}
	if len(s.required) > 0 {
		names := make([]string, len(s.required))
		for i, req := range s.required {
			names[i] = req.Name()
		}
		b.WriteString(" <- [" + strings.Join(names, ", ") + "]")
	}
	return b.String()
}

// MakeOutputs creates a StageOutput for this stage. Handlers use it from
// QueueJobs to wrap produced data and job handles.
func (s *Stage) MakeOutputs(target Target, data OutputData, jobs ...Job) *StageOutput {
	return &StageOutput{
		stageName: s.spec.Name,
		target:    target,
		data:      data,
		jobs:      jobs,
	}
}

// MakeOutputsWithMeta is MakeOutputs with stage-supplied metadata attached.
func (s *Stage) MakeOutputsWithMeta(target Target, data OutputData, meta map[string]interface{}, jobs ...Job) *StageOutput {
	out := s.MakeOutputs(target, data, jobs...)
	out.meta = meta
	return out
}

// reuseOutputs wraps the expected outputs of a target as an already-produced
// result, so dependent stages read the same paths queued work would write.
// Outputs reused on behalf of a skipped stage are marked skipped.
func (s *Stage) reuseOutputs(target Target, expected ExpectedOutput) *StageOutput {
	out := s.MakeOutputs(target, expected.toData())
	out.reusable = true
	out.skipped = s.skipped
	return out
}

// ErrorOutputs creates a StageOutput carrying a per-target execution error.
// The driver collects these across targets and aborts the run before any
// dependent stage is processed.
func (s *Stage) ErrorOutputs(target Target, errorMsg string) *StageOutput {
	return &StageOutput{
		stageName: s.spec.Name,
		target:    target,
		errorMsg:  errorMsg,
	}
}

// expectedOutputs dispatches to the level handler for the given target.
// The driver only passes targets of the stage's own level.
func (s *Stage) expectedOutputs(target Target) (ExpectedOutput, error) {
	switch s.level {
	case LevelSample:
		sm, ok := target.(*Sample)
		if !ok {
			return ExpectedOutput{}, s.levelMismatch(target)
		}
		return s.spec.Sample.ExpectedOutputs(sm), nil
	case LevelDataset:
		d, ok := target.(*Dataset)
		if !ok {
			return ExpectedOutput{}, s.levelMismatch(target)
		}
		return s.spec.Dataset.ExpectedOutputs(d), nil
	default:
		c, ok := target.(*Cohort)
		if !ok {
			return ExpectedOutput{}, s.levelMismatch(target)
		}
		return s.spec.Cohort.ExpectedOutputs(c), nil
	}
}

// queueJobs dispatches to the level handler's QueueJobs.
func (s *Stage) queueJobs(ctx context.Context, target Target, inputs *StageInput) (*StageOutput, error) {
	switch s.level {
	case LevelSample:
		sm, ok := target.(*Sample)
		if !ok {
			return nil, s.levelMismatch(target)
		}
		return s.spec.Sample.QueueJobs(ctx, sm, inputs)
	case LevelDataset:
		d, ok := target.(*Dataset)
		if !ok {
			return nil, s.levelMismatch(target)
		}
		return s.spec.Dataset.QueueJobs(ctx, d, inputs)
	default:
		c, ok := target.(*Cohort)
		if !ok {
			return nil, s.levelMismatch(target)
		}
		return s.spec.Cohort.QueueJobs(ctx, c, inputs)
	}
}

func (s *Stage) levelMismatch(target Target) error {
	return &WorkflowError{
		Message: fmt.Sprintf("stage %s is %s-level but got target %s", s.spec.Name, s.level, target.ID()),
		Code:    CodeInvalidSpec,
	}
}

// JobAttrs builds the tagging attributes for jobs and analysis records:
// the stage name, the configured sequencing type, and the target's own
// attributes.
func (s *Stage) JobAttrs(target Target) map[string]string {
	attrs := map[string]string{"stage": s.spec.Name}
	if st := s.wf.cfg.SequencingType; st != "" {
		attrs["sequencing_type"] = st
	}
	if target != nil {
		for k, v := range target.JobAttrs() {
			attrs[k] = v
		}
	}
	return attrs
}

// setOutput records the output for a target, keeping insertion order so
// downstream aggregation and job wiring stay deterministic.
func (s *Stage) setOutput(targetID string, out *StageOutput) {
	if _, seen := s.outputByTarget[targetID]; !seen {
		s.outputOrder = append(s.outputOrder, targetID)
	}
	s.outputByTarget[targetID] = out
}

// makeInputs aggregates the outputs of all required stages into the read
// view handed to QueueJobs.
func (s *Stage) makeInputs() *StageInput {
	inputs := newStageInput(s)
	for _, req := range s.required {
		for _, targetID := range req.outputOrder {
			if out := req.outputByTarget[targetID]; out != nil {
				inputs.addOutput(out)
			}
		}
	}
	return inputs
}
