package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stageflow/stageflow-go/flow/emit"
)

func TestWorkflow_New(t *testing.T) {
	t.Run("checking enabled requires a checker", func(t *testing.T) {
		_, err := New(newTestCohort("S1"), Config{CheckExpectedOutputs: true}, WithRegistry(NewRegistry()))
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeExistsCheck {
			t.Errorf("expected EXISTS_CHECK error, got %v", err)
		}
	})

	t.Run("run id is generated when not set", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(NewRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if w.RunID() == "" {
			t.Error("expected a generated run ID")
		}
	})

	t.Run("explicit run id wins", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(NewRegistry()), WithRunID("run-42"))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if w.RunID() != "run-42" {
			t.Errorf("expected run-42, got %s", w.RunID())
		}
	})

	t.Run("nil cohort fails at run time", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Align", Sample: &sampleHandler{prefix: "align"}})
		w, err := New(nil, Config{}, WithRegistry(reg))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		_, err = w.Run(context.Background(), RunRequest{})
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeNoCohort {
			t.Errorf("expected NO_COHORT error, got %v", err)
		}
	})
}

func TestWorkflow_Run_JobWiring(t *testing.T) {
	align := &sampleHandler{prefix: "align", withJobs: true}
	gt := &sampleHandler{prefix: "gt", withJobs: true}
	joint := &cohortHandler{prefix: "joint", withJobs: true}

	reg := NewRegistry()
	reg.MustRegister(StageSpec{Name: "Align", Sample: align})
	reg.MustRegister(StageSpec{Name: "Genotype", RequiredStages: []string{"Align"}, Sample: gt})
	reg.MustRegister(StageSpec{Name: "Joint", RequiredStages: []string{"Genotype"}, Cohort: joint})

	cohort := newTestCohort("S1", "S2")
	w, err := New(cohort, Config{}, WithRegistry(reg))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := w.Run(context.Background(), RunRequest{
		Stages:                 []string{"Joint"},
		ForceAllImplicitStages: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	t.Run("all stages processed in order", func(t *testing.T) {
		want := []string{"Align", "Genotype", "Joint"}
		if len(result.Stages) != len(want) {
			t.Fatalf("expected %v, got %v", want, result.Stages)
		}
		for i := range want {
			if result.Stages[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, result.Stages)
			}
		}
	})

	t.Run("sample jobs depend only on their own upstream jobs", func(t *testing.T) {
		st, ok := w.StageByName("Genotype")
		if !ok {
			t.Fatal("Genotype stage missing")
		}
		out, ok := st.OutputFor("S1")
		if !ok || out == nil {
			t.Fatal("no output recorded for S1")
		}
		jobs := out.Jobs()
		if len(jobs) != 1 {
			t.Fatalf("expected 1 job, got %d", len(jobs))
		}
		j := jobs[0].(*testJob)
		if len(j.deps) != 1 || j.deps[0].Name() != "align S1" {
			t.Errorf("genotype S1 should depend on align S1 only, got %v", j.deps)
		}
	})

	t.Run("cohort job depends on every sample job", func(t *testing.T) {
		st, _ := w.StageByName("Joint")
		out, ok := st.OutputFor(cohort.ID())
		if !ok || out == nil {
			t.Fatal("no cohort output recorded")
		}
		j := out.Jobs()[0].(*testJob)
		if len(j.deps) != 2 {
			t.Errorf("joint job should depend on both genotype jobs, got %d deps", len(j.deps))
		}
	})

	t.Run("run result collects every job", func(t *testing.T) {
		if len(result.Jobs) != 5 {
			t.Errorf("expected 5 jobs (2+2+1), got %d", len(result.Jobs))
		}
	})

	t.Run("decisions are recorded per stage and target", func(t *testing.T) {
		if result.ActionsByStage["Align"]["S1"] != ActionQueue {
			t.Errorf("expected queue for Align/S1, got %v", result.ActionsByStage["Align"]["S1"])
		}
		if result.ActionsByStage["Joint"][cohort.ID()] != ActionQueue {
			t.Errorf("expected queue for Joint/cohort, got %v", result.ActionsByStage["Joint"][cohort.ID()])
		}
	})
}

func TestWorkflow_Run_ReuseHoisting(t *testing.T) {
	align := &sampleHandler{prefix: "align", withJobs: true}
	reg := NewRegistry()
	reg.MustRegister(StageSpec{Name: "Align", AnalysisType: "cram", Sample: align})

	checker := &mapChecker{existing: map[string]bool{
		"/out/align/S1": true,
		"/out/align/S2": true,
	}}
	reporter := &recordingReporter{}
	cohort := newTestCohort("S1", "S2")
	w, err := New(cohort, Config{CheckExpectedOutputs: true},
		WithRegistry(reg),
		WithExistenceChecker(checker),
		WithStatusReporter(reporter),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := w.Run(context.Background(), RunRequest{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	t.Run("nothing is queued", func(t *testing.T) {
		if len(align.queued) != 0 {
			t.Errorf("expected no queued samples, got %v", align.queued)
		}
	})

	t.Run("reused outputs are recorded for dependents", func(t *testing.T) {
		st, _ := w.StageByName("Align")
		for _, id := range []string{"S1", "S2"} {
			out, ok := st.OutputFor(id)
			if !ok || out == nil {
				t.Fatalf("no output for %s", id)
			}
			if !out.Reusable() {
				t.Errorf("output for %s should be marked reusable", id)
			}
			path, err := out.AsPath()
			if err != nil {
				t.Fatalf("AsPath failed: %v", err)
			}
			if path != "/out/align/"+id {
				t.Errorf("unexpected reuse path %s", path)
			}
		}
	})

	t.Run("completed analyses are reported", func(t *testing.T) {
		completed := reporter.byStatus("completed")
		if len(completed) != 2 {
			t.Fatalf("expected 2 completed reports, got %d", len(completed))
		}
		if completed[0].AnalysisType != "cram" {
			t.Errorf("unexpected analysis type %s", completed[0].AnalysisType)
		}
	})
}

func TestWorkflow_Run_PartialReuse(t *testing.T) {
	align := &sampleHandler{prefix: "align", withJobs: true}
	reg := NewRegistry()
	reg.MustRegister(StageSpec{Name: "Align", Sample: align})

	// S1 has results, S2 does not: no hoisting, S2 queues.
	checker := &mapChecker{existing: map[string]bool{"/out/align/S1": true}}
	cohort := newTestCohort("S1", "S2")
	w, err := New(cohort, Config{CheckExpectedOutputs: true}, WithRegistry(reg), WithExistenceChecker(checker))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	result, err := w.Run(context.Background(), RunRequest{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.ActionsByStage["Align"]["S1"] != ActionReuse {
		t.Errorf("expected reuse for S1, got %v", result.ActionsByStage["Align"]["S1"])
	}
	if result.ActionsByStage["Align"]["S2"] != ActionQueue {
		t.Errorf("expected queue for S2, got %v", result.ActionsByStage["Align"]["S2"])
	}
	if len(align.queued) != 1 || align.queued[0] != "S2" {
		t.Errorf("expected only S2 queued, got %v", align.queued)
	}
}

func TestWorkflow_Run_HandlerErrors(t *testing.T) {
	t.Run("failures are collected across targets before aborting", func(t *testing.T) {
		align := &sampleHandler{prefix: "align", queueErr: errors.New("reference genome missing")}
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Align", Sample: align})

		w, err := New(newTestCohort("S1", "S2", "S3"), Config{}, WithRegistry(reg))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		_, err = w.Run(context.Background(), RunRequest{})
		if err == nil {
			t.Fatal("expected run to fail")
		}
		msg := err.Error()
		if !strings.Contains(msg, "stage Align failed to queue jobs") {
			t.Errorf("unexpected error message: %s", msg)
		}
		// One grouped line naming all three targets, not three lines.
		if !strings.Contains(msg, "S1, S2, S3") {
			t.Errorf("expected grouped targets in message, got: %s", msg)
		}
	})

	t.Run("dependent stages never run after a failure", func(t *testing.T) {
		align := &sampleHandler{prefix: "align", queueErr: errors.New("boom")}
		gt := &sampleHandler{prefix: "gt"}
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Align", Sample: align})
		reg.MustRegister(StageSpec{Name: "Genotype", RequiredStages: []string{"Align"}, Sample: gt})

		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(reg))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		_, err = w.Run(context.Background(), RunRequest{Stages: []string{"Align", "Genotype"}})
		if err == nil {
			t.Fatal("expected run to fail")
		}
		if len(gt.queued) != 0 {
			t.Errorf("dependent stage ran despite upstream failure: %v", gt.queued)
		}
	})
}

// pathsCohortHandler aggregates upstream per-sample paths the way a joint
// calling stage would, surfacing any input error.
type pathsCohortHandler struct {
	inputErr error
}

func (h *pathsCohortHandler) ExpectedOutputs(c *Cohort) ExpectedOutput {
	return ExpectPath("/out/joint/" + c.Name())
}

func (h *pathsCohortHandler) QueueJobs(_ context.Context, c *Cohort, inputs *StageInput) (*StageOutput, error) {
	if _, err := inputs.PathByTarget("Genotype"); err != nil {
		h.inputErr = err
		return nil, err
	}
	return inputs.Stage().MakeOutputs(c, PathData("/out/joint/"+c.Name())), nil
}

func TestWorkflow_Run_AllSamplesDeactivated(t *testing.T) {
	// An implicit skipped Genotype with no existing outputs deactivates
	// every sample. The cohort stage then has zero inputs and must fail
	// instead of queueing joint work over an empty map.
	gt := &sampleHandler{prefix: "gt"}
	joint := &pathsCohortHandler{}
	reg := NewRegistry()
	reg.MustRegister(StageSpec{Name: "Genotype", Sample: gt})
	reg.MustRegister(StageSpec{Name: "Joint", RequiredStages: []string{"Genotype"}, Cohort: joint})

	cohort := newTestCohort("S1", "S2")
	samples := cohort.Samples(true)
	checker := &mapChecker{existing: map[string]bool{}}
	w, err := New(cohort, Config{
		CheckExpectedOutputs:        true,
		SkipSamplesWithMissingInput: true,
	}, WithRegistry(reg), WithExistenceChecker(checker))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = w.Run(context.Background(), RunRequest{Stages: []string{"Joint"}})
	if err == nil {
		t.Fatal("expected run to fail when every sample was deactivated")
	}
	if !strings.Contains(err.Error(), "no outputs from stage Genotype") {
		t.Errorf("unexpected error message: %s", err.Error())
	}
	if !errors.Is(joint.inputErr, ErrStageInputNotFound) {
		t.Errorf("handler should see ErrStageInputNotFound, got %v", joint.inputErr)
	}
	for _, s := range samples {
		if s.Active() {
			t.Errorf("sample %s should be deactivated", s.ID())
		}
	}
}

func TestWorkflow_Run_Reporting(t *testing.T) {
	t.Run("queued analyses carry jobs and upstream jobs", func(t *testing.T) {
		align := &sampleHandler{prefix: "align", withJobs: true}
		gt := &sampleHandler{prefix: "gt", withJobs: true}
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Align", AnalysisType: "cram", Sample: align})
		reg.MustRegister(StageSpec{Name: "Genotype", RequiredStages: []string{"Align"}, AnalysisType: "gvcf", Sample: gt})

		reporter := &recordingReporter{}
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(reg), WithStatusReporter(reporter))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, err := w.Run(context.Background(), RunRequest{Stages: []string{"Align", "Genotype"}}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}

		queued := reporter.byStatus("queued")
		if len(queued) != 2 {
			t.Fatalf("expected 2 queued reports, got %d", len(queued))
		}
		var gvcf *StatusReport
		for i := range queued {
			if queued[i].AnalysisType == "gvcf" {
				gvcf = &queued[i]
			}
		}
		if gvcf == nil {
			t.Fatal("no gvcf report")
		}
		if len(gvcf.Jobs) != 1 || len(gvcf.UpstreamJobs) != 1 {
			t.Errorf("expected 1 job and 1 upstream job, got %d and %d", len(gvcf.Jobs), len(gvcf.UpstreamJobs))
		}
		if gvcf.RunID != w.RunID() {
			t.Errorf("report run ID %s does not match %s", gvcf.RunID, w.RunID())
		}
	})

	t.Run("stages without an analysis type are not reported", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Align", Sample: &sampleHandler{prefix: "align"}})

		reporter := &recordingReporter{}
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(reg), WithStatusReporter(reporter))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, err := w.Run(context.Background(), RunRequest{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(reporter.reports) != 0 {
			t.Errorf("expected no reports, got %d", len(reporter.reports))
		}
	})

	t.Run("reporter failures do not abort the run", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Align", AnalysisType: "cram", Sample: &sampleHandler{prefix: "align", withJobs: true}})

		reporter := &recordingReporter{err: errors.New("metadata service down")}
		buffered := emit.NewBufferedEmitter()
		w, err := New(newTestCohort("S1"), Config{},
			WithRegistry(reg),
			WithStatusReporter(reporter),
			WithEmitter(buffered),
		)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if _, err := w.Run(context.Background(), RunRequest{}); err != nil {
			t.Fatalf("run should survive reporter failures, got: %v", err)
		}

		failures := buffered.HistoryWithFilter(w.RunID(), emit.HistoryFilter{Msg: "status_report_failed"})
		if len(failures) != 1 {
			t.Errorf("expected 1 report failure event, got %d", len(failures))
		}
	})
}

func TestWorkflow_Run_Events(t *testing.T) {
	align := &sampleHandler{prefix: "align", withJobs: true}
	reg := NewRegistry()
	reg.MustRegister(StageSpec{Name: "Align", Sample: align})

	buffered := emit.NewBufferedEmitter()
	w, err := New(newTestCohort("S1"), Config{}, WithRegistry(reg), WithEmitter(buffered))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := w.Run(context.Background(), RunRequest{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	history := buffered.History(w.RunID())
	if len(history) == 0 {
		t.Fatal("expected events")
	}
	if history[0].Msg != "stages_resolved" && history[0].Msg != "run_started" {
		t.Errorf("unexpected first event %q", history[0].Msg)
	}
	last := history[len(history)-1]
	if last.Msg != "run_finished" {
		t.Errorf("expected run_finished last, got %q", last.Msg)
	}
}
