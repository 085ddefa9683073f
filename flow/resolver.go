package flow

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// setStages resolves the requested stage names into the final ordered stage
// graph. Executed once per run, before any decision is made.
//
// Resolution:
//  1. Instantiate the explicitly requested stages; duplicates are fatal.
//  2. Repeatedly discover required stages not yet present. Implicit stages
//     default to skipped (they were not asked for), get assume-outputs-exist
//     when allow-listed or when discovered beyond the first round, and are
//     prepended so dependencies precede dependents. A stage on the global
//     skip list is added skipped and its own dependencies are not expanded
//     further: its outputs are trusted, so nothing upstream is needed.
//  3. Bind each stage's required list against the complete graph and reject
//     cycles.
//  4. Apply the first/last stage window.
//  5. Fail when no stage is left active.
func (w *Workflow) setStages(names []string, forceAllImplicit bool) error {
	if len(names) == 0 {
		names = w.registry.Names()
	}
	if len(names) == 0 {
		return &WorkflowError{Message: "no stages requested or registered", Code: CodeStageNotFound}
	}

	var stages []*Stage
	byName := make(map[string]*Stage)

	for _, name := range names {
		spec, ok := w.registry.lookup(name)
		if !ok {
			return &WorkflowError{
				Message: "requested stage " + name + " is not registered",
				Code:    CodeStageNotFound,
			}
		}
		if _, exists := byName[name]; exists {
			return &WorkflowError{
				Message: fmt.Sprintf("stage %s is requested more than once: %s", name, strings.Join(names, ", ")),
				Code:    CodeDuplicateStage,
			}
		}
		st, err := newStage(w, spec)
		if err != nil {
			return err
		}
		stages = append(stages, st)
		byName[name] = st
	}

	// Stages whose dependencies must not be expanded (global skip list).
	noExpand := make(map[string]bool)

	for depth := 1; ; depth++ {
		var newly []*Stage
		newlyNames := make(map[string]bool)

		for _, st := range stages {
			if noExpand[st.Name()] {
				continue
			}
			for _, reqName := range st.spec.RequiredStages {
				if _, ok := byName[reqName]; ok {
					continue
				}
				if newlyNames[reqName] {
					continue
				}
				spec, ok := w.registry.lookup(reqName)
				if !ok {
					return &WorkflowError{
						Message: fmt.Sprintf("stage %s requires stage %s, which is not registered: an implicit required stage must be declared or discoverable", st.Name(), reqName),
						Code:    CodeStageNotFound,
					}
				}
				req, err := newStage(w, spec)
				if err != nil {
					return err
				}
				newly = append(newly, req)
				newlyNames[reqName] = true

				if containsString(w.cfg.AssumeOutputsExistForStages, reqName) {
					req.assumeOutputsExist = true
				}
				if containsString(w.cfg.SkipStages, reqName) {
					req.skipped = true
					noExpand[reqName] = true
					continue
				}
				if !forceAllImplicit {
					req.skipped = true
					if depth > 1 {
						// Only outputs of immediately required stages are
						// checked; anything further upstream is trusted.
						req.assumeOutputsExist = true
						w.emit(req.Name(), "", "", "stage_skipped", nil)
					} else {
						w.emit(req.Name(), "", "", "stage_skipped", map[string]interface{}{
							"reason": "not requested explicitly, but its output is required for stage " + st.Name(),
						})
					}
				}
			}
		}

		if len(newly) == 0 {
			break
		}
		implicitNames := make([]string, len(newly))
		for i, st := range newly {
			implicitNames[i] = st.Name()
			byName[st.Name()] = st
		}
		w.emit("", "", "", "implicit_stages_added", map[string]interface{}{
			"stages": implicitNames,
		})
		// Prepend so topological iteration visits dependencies first.
		stages = append(newly, stages...)
	}

	for _, st := range stages {
		for _, reqName := range st.spec.RequiredStages {
			req, ok := byName[reqName]
			if !ok {
				return &WorkflowError{
					Message: fmt.Sprintf("stage %s references stage %s, which is missing from the resolved graph", st.Name(), reqName),
					Code:    CodeStageNotFound,
				}
			}
			st.required = append(st.required, req)
		}
	}

	if err := validateAcyclic(stages); err != nil {
		return err
	}

	firstIdx, lastIdx, err := w.stageWindow(stages)
	if err != nil {
		return err
	}
	for i, st := range stages {
		if firstIdx >= 0 && i < firstIdx {
			st.skipped = true
			if i < firstIdx-1 {
				// Outputs of the stage immediately before the window are
				// still checked once; everything earlier is trusted.
				st.assumeOutputsExist = true
			}
			w.emit(st.Name(), "", "", "stage_skipped", map[string]interface{}{
				"reason": "before first_stage " + w.cfg.FirstStage,
			})
			continue
		}
		if lastIdx >= 0 && i > lastIdx {
			st.skipped = true
			st.assumeOutputsExist = true
		}
	}

	var active, skipped []string
	for _, st := range stages {
		if st.skipped {
			skipped = append(skipped, st.Name())
		} else {
			active = append(active, st.Name())
		}
	}
	if len(active) == 0 {
		return ErrNoStagesToRun
	}
	w.metrics.setStagesResolved(len(active), len(skipped))
	w.emit("", "", "", "stages_resolved", map[string]interface{}{
		"active":  active,
		"skipped": skipped,
	})

	w.stages = stages
	w.byName = byName
	w.lastStageIdx = lastIdx
	return nil
}

// validateAcyclic rejects dependency cycles using a topological sort over
// the bound required-stage edges.
func validateAcyclic(stages []*Stage) error {
	var edges []toposort.Edge
	for _, st := range stages {
		if len(st.required) == 0 {
			edges = append(edges, toposort.Edge{nil, st.Name()})
			continue
		}
		for _, req := range st.required {
			edges = append(edges, toposort.Edge{req.Name(), st.Name()})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return &WorkflowError{
			Message: "stage graph contains a cycle: " + err.Error(),
			Code:    CodeGraphCycle,
		}
	}
	return nil
}

// stageWindow resolves the configured first/last stage names against the
// resolved order. Names are matched case-insensitively; unknown names are
// configuration errors. Returns -1 for unset bounds.
func (w *Workflow) stageWindow(stages []*Stage) (firstIdx, lastIdx int, err error) {
	firstIdx, lastIdx = -1, -1
	if first := w.cfg.FirstStage; first != "" {
		firstIdx = indexOfStage(stages, first)
		if firstIdx < 0 {
			return 0, 0, &WorkflowError{
				Message: fmt.Sprintf("first_stage %s not found in available stages: %s", first, stageNames(stages)),
				Code:    CodeUnknownFirstStage,
			}
		}
	}
	if last := w.cfg.LastStage; last != "" {
		lastIdx = indexOfStage(stages, last)
		if lastIdx < 0 {
			return 0, 0, &WorkflowError{
				Message: fmt.Sprintf("last_stage %s not found in available stages: %s", last, stageNames(stages)),
				Code:    CodeUnknownLastStage,
			}
		}
	}
	return firstIdx, lastIdx, nil
}

func indexOfStage(stages []*Stage, name string) int {
	for i, st := range stages {
		if strings.EqualFold(st.Name(), name) {
			return i
		}
	}
	return -1
}

func stageNames(stages []*Stage) string {
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name()
	}
	return strings.Join(names, ", ")
}
