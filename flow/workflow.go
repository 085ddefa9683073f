package flow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/stageflow/stageflow-go/flow/emit"
)

// Workflow drives a single pipeline run over a cohort: it resolves the stage
// graph, decides what to do with every target, and hands queue-worthy work to
// the stage handlers in dependency order.
//
// A Workflow is single-use. Build one with New, call Run once, then inspect
// the RunResult or the stage outputs. It is not safe for concurrent use.
//
// Example:
//
//	cohort := flow.NewCohort("thousand-genomes")
//	cohort.CreateDataset("validation").AddSample("NA12878")
//
//	wf, err := flow.New(cohort, cfg,
//		flow.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//		flow.WithExistenceChecker(cloud.NewLocalChecker()),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := wf.Run(ctx, flow.RunRequest{Stages: []string{"JointCalling"}})
type Workflow struct {
	cfg      Config
	cohort   *Cohort
	registry *Registry
	runID    string
	emitter  emit.Emitter
	metrics  *Metrics
	reporter StatusReporter
	exists   *existsCache

	stages       []*Stage
	byName       map[string]*Stage
	lastStageIdx int

	actions map[string]map[string]Action
	jobs    []Job
}

// RunRequest selects what a run executes.
type RunRequest struct {
	// Stages names the stages to run. Empty means every registered stage.
	// Required stages not listed here are added implicitly as skipped.
	Stages []string

	// ForceAllImplicitStages runs implicitly added stages instead of
	// skipping them and expecting their outputs to exist.
	ForceAllImplicitStages bool
}

// RunResult summarizes a completed run.
type RunResult struct {
	// RunID identifies the run across events and status reports.
	RunID string

	// Stages lists the processed stages in execution order. Shorter than
	// the resolved graph when last_stage stopped the run early.
	Stages []string

	// ActionsByStage records the decision taken for every stage and target,
	// keyed by stage name then target ID.
	ActionsByStage map[string]map[string]Action

	// Jobs collects every job handle produced across all stages.
	Jobs []Job
}

// New builds a Workflow for the given cohort and configuration. Options
// attach the emitter, status reporter, existence checker, metrics, registry
// and run ID; unset options fall back to quiet defaults.
func New(cohort *Cohort, cfg Config, opts ...Option) (*Workflow, error) {
	w := &Workflow{
		cfg:          cfg,
		cohort:       cohort,
		registry:     DefaultRegistry(),
		emitter:      emit.NewNullEmitter(),
		lastStageIdx: -1,
		actions:      make(map[string]map[string]Action),
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if w.runID == "" {
		w.runID = newRunID()
	}
	if cfg.CheckExpectedOutputs && w.exists == nil {
		return nil, &WorkflowError{
			Message: "check_expected_outputs is enabled but no existence checker is configured",
			Code:    CodeExistsCheck,
		}
	}
	return w, nil
}

// RunID returns the identifier for this run.
func (w *Workflow) RunID() string { return w.runID }

// StageByName returns a resolved stage after Run has built the graph.
func (w *Workflow) StageByName(name string) (*Stage, bool) {
	st, ok := w.byName[name]
	return st, ok
}

// Run resolves the stage graph and processes every stage in dependency
// order. Skipped stages are still processed so their reusable outputs are
// recorded for dependents; they just never queue new work.
//
// The run aborts on the first stage with handler failures, after collecting
// the failure from every target of that stage.
func (w *Workflow) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if w.cohort == nil {
		return nil, &WorkflowError{
			Message: "workflow has no cohort to run against",
			Code:    CodeNoCohort,
		}
	}
	if err := w.setStages(req.Stages, req.ForceAllImplicitStages); err != nil {
		return nil, err
	}

	w.emit("", "", "", "run_started", map[string]interface{}{
		"cohort":  w.cohort.Name(),
		"samples": len(w.cohort.SampleIDs(true)),
	})

	result := &RunResult{RunID: w.runID, ActionsByStage: w.actions}
	for i, st := range w.stages {
		w.emit(st.Name(), "", "", "stage_started", map[string]interface{}{
			"stage": st.String(),
		})
		if err := w.queueStage(ctx, st); err != nil {
			return nil, err
		}
		if err := w.stageErrors(st); err != nil {
			return nil, err
		}
		for _, targetID := range st.outputOrder {
			if out := st.outputByTarget[targetID]; out != nil {
				w.jobs = append(w.jobs, out.jobs...)
			}
		}
		result.Stages = append(result.Stages, st.Name())
		if w.lastStageIdx >= 0 && i >= w.lastStageIdx {
			w.emit(st.Name(), "", "", "last_stage_reached", nil)
			break
		}
	}
	result.Jobs = w.jobs

	w.emit("", "", "", "run_finished", map[string]interface{}{
		"stages": len(result.Stages),
		"jobs":   len(result.Jobs),
	})
	return result, nil
}

// queueStage processes one stage for every target of its level.
func (w *Workflow) queueStage(ctx context.Context, st *Stage) error {
	switch st.level {
	case LevelCohort:
		out, err := w.queueWithChecks(ctx, st, w.cohort, nil)
		if err != nil {
			return err
		}
		if out != nil {
			st.setOutput(w.cohort.ID(), out)
		}
		return nil
	case LevelDataset:
		datasets := w.cohort.Datasets(true)
		if len(datasets) == 0 {
			w.emit(st.Name(), "", "", "no_active_datasets", nil)
			return nil
		}
		for _, d := range datasets {
			out, err := w.queueWithChecks(ctx, st, d, nil)
			if err != nil {
				return err
			}
			if out != nil {
				st.setOutput(d.ID(), out)
			}
		}
		return nil
	default:
		return w.queueSampleStage(ctx, st)
	}
}

// queueSampleStage processes a sample-level stage one dataset at a time.
// When every sample of a dataset reuses existing results, the outputs are
// recorded in one pass without calling queueWithChecks per sample.
func (w *Workflow) queueSampleStage(ctx context.Context, st *Stage) error {
	datasets := w.cohort.Datasets(true)
	if len(datasets) == 0 {
		w.emit(st.Name(), "", "", "no_active_datasets", nil)
		return nil
	}
	for _, dataset := range datasets {
		samples := dataset.Samples(true)
		if len(samples) == 0 {
			w.emit(st.Name(), dataset.ID(), "", "no_active_samples", nil)
			continue
		}

		actionBySample := make(map[string]Action, len(samples))
		allReuse := true
		for _, s := range samples {
			action, err := w.decide(ctx, st, s)
			if err != nil {
				return err
			}
			actionBySample[s.ID()] = action
			if action != ActionReuse {
				allReuse = false
				continue
			}
			if err := w.reportReuse(ctx, st, s); err != nil {
				return err
			}
		}

		if allReuse {
			for _, s := range samples {
				expected, err := st.expectedOutputs(s)
				if err != nil {
					return err
				}
				out := st.reuseOutputs(s, expected)
				out.mergeMeta(st.JobAttrs(s))
				st.setOutput(s.ID(), out)
			}
			w.emit(st.Name(), dataset.ID(), ActionReuse.String(), "dataset_reused", map[string]interface{}{
				"samples": len(samples),
			})
			continue
		}

		for _, s := range samples {
			action := actionBySample[s.ID()]
			out, err := w.queueWithChecks(ctx, st, s, &action)
			if err != nil {
				return err
			}
			if out != nil {
				st.setOutput(s.ID(), out)
			}
		}
	}
	return nil
}

// queueWithChecks resolves the action for one target and executes it. A nil
// known action means the decision has not been made yet. Returns nil for
// skipped targets.
//
// Handler failures do not propagate as errors: they come back as a
// StageOutput with an error message, so the driver can collect the failure
// from every target before aborting.
func (w *Workflow) queueWithChecks(ctx context.Context, st *Stage, target Target, known *Action) (*StageOutput, error) {
	var action Action
	if known != nil {
		action = *known
	} else {
		a, err := w.decide(ctx, st, target)
		if err != nil {
			return nil, err
		}
		action = a
	}

	switch action {
	case ActionSkip:
		return nil, nil

	case ActionReuse:
		expected, err := st.expectedOutputs(target)
		if err != nil {
			return nil, err
		}
		out := st.reuseOutputs(target, expected)
		out.mergeMeta(st.JobAttrs(target))
		if st.level != LevelSample {
			w.report(ctx, st, StatusReport{
				Status: "completed",
				Target: target,
				Output: out.data.String(),
				Meta:   out.meta,
			})
		}
		return out, nil

	default:
		inputs := st.makeInputs()
		out, err := st.queueJobs(ctx, target, inputs)
		if err != nil {
			return st.ErrorOutputs(target, err.Error()), nil
		}
		if out == nil {
			out = st.MakeOutputs(target, NoData())
		}
		out.mergeMeta(st.JobAttrs(target))

		// Newly queued jobs wait for every upstream job that touches
		// this target's samples.
		upstream := inputs.Jobs(target)
		for _, j := range out.jobs {
			if j != nil {
				j.DependsOn(upstream...)
			}
		}

		w.report(ctx, st, StatusReport{
			Status:       "queued",
			Target:       target,
			Output:       out.data.String(),
			Jobs:         out.jobs,
			UpstreamJobs: upstream,
			Meta:         out.meta,
		})
		w.emit(st.Name(), target.ID(), ActionQueue.String(), "jobs_queued", map[string]interface{}{
			"jobs": len(out.jobs),
		})
		return out, nil
	}
}

// decide wraps decideAction to record the decision in metrics and in the
// per-run action map.
func (w *Workflow) decide(ctx context.Context, s *Stage, target Target) (Action, error) {
	action, err := w.decideAction(ctx, s, target)
	if err != nil {
		return 0, err
	}
	w.metrics.observeDecision(s.Name(), action)
	byTarget := w.actions[s.Name()]
	if byTarget == nil {
		byTarget = make(map[string]Action)
		w.actions[s.Name()] = byTarget
	}
	byTarget[target.ID()] = action
	return action, nil
}

// stageErrors aggregates per-target handler failures, grouped by distinct
// message so a shared root cause reads as one line listing its targets.
func (w *Workflow) stageErrors(st *Stage) error {
	var order []string
	targetsByMsg := make(map[string][]string)
	for _, targetID := range st.outputOrder {
		out := st.outputByTarget[targetID]
		if out == nil || out.errorMsg == "" {
			continue
		}
		if _, seen := targetsByMsg[out.errorMsg]; !seen {
			order = append(order, out.errorMsg)
		}
		targetsByMsg[out.errorMsg] = append(targetsByMsg[out.errorMsg], targetID)
	}
	if len(order) == 0 {
		return nil
	}
	var merr *multierror.Error
	for _, msg := range order {
		merr = multierror.Append(merr, fmt.Errorf("%s (targets: %s)", msg, strings.Join(targetsByMsg[msg], ", ")))
	}
	return fmt.Errorf("stage %s failed to queue jobs: %w", st.Name(), merr.ErrorOrNil())
}

// reportReuse records a completed analysis for a sample whose results are
// reused without queueing anything.
func (w *Workflow) reportReuse(ctx context.Context, st *Stage, target Target) error {
	if st.spec.AnalysisType == "" || w.reporter == nil {
		return nil
	}
	expected, err := st.expectedOutputs(target)
	if err != nil {
		return err
	}
	w.report(ctx, st, StatusReport{
		Status: "completed",
		Target: target,
		Output: expected.toData().String(),
		Meta:   metaFromAttrs(st.JobAttrs(target)),
	})
	return nil
}

// report fills in run-level fields and delivers the report. Reporter
// failures are emitted as events; status tracking never aborts a run.
func (w *Workflow) report(ctx context.Context, st *Stage, rep StatusReport) {
	if w.reporter == nil || st.spec.AnalysisType == "" {
		return
	}
	rep.RunID = w.runID
	rep.Stage = st.Name()
	rep.AnalysisType = st.spec.AnalysisType
	if err := w.reporter.Report(ctx, rep); err != nil {
		targetID := ""
		if rep.Target != nil {
			targetID = rep.Target.ID()
		}
		w.emit(rep.Stage, targetID, "", "status_report_failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (w *Workflow) emit(stage, target, action, msg string, meta map[string]interface{}) {
	if w.emitter == nil {
		return
	}
	w.emitter.Emit(emit.Event{
		RunID:  w.runID,
		Stage:  stage,
		Target: target,
		Action: action,
		Msg:    msg,
		Meta:   meta,
		Time:   time.Now(),
	})
}

func (w *Workflow) emitDecision(s *Stage, target Target, action Action, meta map[string]interface{}) {
	w.emit(s.Name(), target.ID(), action.String(), "decision", meta)
}

func metaFromAttrs(attrs map[string]string) map[string]interface{} {
	meta := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		meta[k] = v
	}
	return meta
}
