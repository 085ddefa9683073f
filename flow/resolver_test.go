package flow

import (
	"context"
	"errors"
	"testing"
)

// chain registers A <- B <- C (C requires B requires A).
func chainRegistry() *Registry {
	reg := NewRegistry()
	reg.MustRegister(StageSpec{Name: "A", Sample: &sampleHandler{prefix: "a"}})
	reg.MustRegister(StageSpec{Name: "B", RequiredStages: []string{"A"}, Sample: &sampleHandler{prefix: "b"}})
	reg.MustRegister(StageSpec{Name: "C", RequiredStages: []string{"B"}, Sample: &sampleHandler{prefix: "c"}})
	return reg
}

func resolvedNames(w *Workflow) []string {
	names := make([]string, len(w.stages))
	for i, st := range w.stages {
		names[i] = st.Name()
	}
	return names
}

func TestSetStages_ImplicitStages(t *testing.T) {
	t.Run("required stages are added skipped and prepended", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"C"}, false); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}

		got := resolvedNames(w)
		want := []string{"A", "B", "C"}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("expected order %v, got %v", want, got)
			}
		}
		if !w.byName["A"].Skipped() || !w.byName["B"].Skipped() {
			t.Error("implicit stages should be skipped")
		}
		if w.byName["C"].Skipped() {
			t.Error("requested stage should be active")
		}
	})

	t.Run("only first-round implicit stages keep checkable outputs", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"C"}, false); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}

		if w.byName["B"].AssumeOutputsExist() {
			t.Error("directly required stage outputs should still be checked")
		}
		if !w.byName["A"].AssumeOutputsExist() {
			t.Error("transitively required stage outputs should be trusted")
		}
	})

	t.Run("force all implicit stages runs them", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"C"}, true); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}

		for _, name := range []string{"A", "B", "C"} {
			if w.byName[name].Skipped() {
				t.Errorf("stage %s should be active", name)
			}
		}
	})

	t.Run("skip list stops dependency expansion", func(t *testing.T) {
		cfg := Config{SkipStages: []string{"B"}}
		w, err := New(newTestCohort("S1"), cfg, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"C"}, false); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}

		if _, ok := w.byName["A"]; ok {
			t.Error("dependencies of a skip-listed stage should not be resolved")
		}
		if !w.byName["B"].Skipped() {
			t.Error("skip-listed stage should be skipped")
		}
	})

	t.Run("assume list trusts outputs of implicit stages", func(t *testing.T) {
		cfg := Config{AssumeOutputsExistForStages: []string{"B"}}
		w, err := New(newTestCohort("S1"), cfg, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"C"}, false); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}

		if !w.byName["B"].AssumeOutputsExist() {
			t.Error("allow-listed stage outputs should be trusted")
		}
	})

	t.Run("resolution is deterministic", func(t *testing.T) {
		first := []string(nil)
		for i := 0; i < 5; i++ {
			w, err := New(newTestCohort("S1"), Config{}, WithRegistry(chainRegistry()))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if err := w.setStages([]string{"C"}, false); err != nil {
				t.Fatalf("setStages failed: %v", err)
			}
			got := resolvedNames(w)
			if first == nil {
				first = got
				continue
			}
			for j := range first {
				if got[j] != first[j] {
					t.Fatalf("resolution order changed between runs: %v vs %v", first, got)
				}
			}
		}
	})
}

func TestSetStages_Errors(t *testing.T) {
	t.Run("duplicate request", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = w.setStages([]string{"A", "A"}, false)
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeDuplicateStage {
			t.Errorf("expected DUPLICATE_STAGE, got %v", err)
		}
	})

	t.Run("unknown stage", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = w.setStages([]string{"Nope"}, false)
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeStageNotFound {
			t.Errorf("expected STAGE_NOT_FOUND, got %v", err)
		}
	})

	t.Run("dependency cycle", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "X", RequiredStages: []string{"Y"}, Sample: &sampleHandler{prefix: "x"}})
		reg.MustRegister(StageSpec{Name: "Y", RequiredStages: []string{"X"}, Sample: &sampleHandler{prefix: "y"}})
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(reg))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = w.setStages([]string{"X", "Y"}, false)
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeGraphCycle {
			t.Errorf("expected GRAPH_CYCLE, got %v", err)
		}
	})

	t.Run("unknown first stage", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{FirstStage: "Nope"}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = w.setStages([]string{"C"}, false)
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeUnknownFirstStage {
			t.Errorf("expected UNKNOWN_FIRST_STAGE, got %v", err)
		}
	})

	t.Run("unknown last stage", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{LastStage: "Nope"}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = w.setStages([]string{"C"}, false)
		var werr *WorkflowError
		if !errors.As(err, &werr) || werr.Code != CodeUnknownLastStage {
			t.Errorf("expected UNKNOWN_LAST_STAGE, got %v", err)
		}
	})

	t.Run("nothing left active", func(t *testing.T) {
		reg := NewRegistry()
		reg.MustRegister(StageSpec{Name: "Old", Skipped: true, Sample: &sampleHandler{prefix: "old"}})
		w, err := New(newTestCohort("S1"), Config{}, WithRegistry(reg))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		err = w.setStages([]string{"Old"}, false)
		if !errors.Is(err, ErrNoStagesToRun) {
			t.Errorf("expected ErrNoStagesToRun, got %v", err)
		}
	})
}

func TestSetStages_Window(t *testing.T) {
	t.Run("first stage skips earlier stages", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{FirstStage: "C"}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"A", "B", "C"}, false); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}

		if !w.byName["A"].Skipped() || !w.byName["B"].Skipped() {
			t.Error("stages before first_stage should be skipped")
		}
		if w.byName["C"].Skipped() {
			t.Error("first_stage itself should be active")
		}
		// The stage immediately before the window still has its outputs
		// checked; everything earlier is trusted outright.
		if !w.byName["A"].AssumeOutputsExist() {
			t.Error("stage A should be trusted")
		}
		if w.byName["B"].AssumeOutputsExist() {
			t.Error("stage B outputs should still be checked")
		}
	})

	t.Run("last stage stops the run", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{LastStage: "B"}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		result, err := w.Run(context.Background(), RunRequest{Stages: []string{"A", "B", "C"}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(result.Stages) != 2 || result.Stages[len(result.Stages)-1] != "B" {
			t.Errorf("expected run to stop after B, processed %v", result.Stages)
		}
	})

	t.Run("window names match case-insensitively", func(t *testing.T) {
		w, err := New(newTestCohort("S1"), Config{FirstStage: "c"}, WithRegistry(chainRegistry()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		if err := w.setStages([]string{"A", "B", "C"}, false); err != nil {
			t.Fatalf("setStages failed: %v", err)
		}
		if w.byName["C"].Skipped() {
			t.Error("case-insensitive first_stage should match C")
		}
	})
}
