package flow

import "fmt"

// StageInput is the read-side view a stage receives when its work is queued.
//
// It aggregates the StageOutputs of every declared upstream stage, indexed
// by (upstream stage name, target ID). Entries exist only for targets that
// are active, cover at least one sample, and carry non-empty data or jobs.
//
// Querying a stage that is not listed in the consuming stage's
// RequiredStages is a fatal configuration error: the engine fails fast
// rather than silently returning nothing.
type StageInput struct {
	stage *Stage

	// stageName -> targetID -> output
	outputs map[string]map[string]*StageOutput

	// insertion order for deterministic iteration
	stageOrder  []string
	targetOrder map[string][]string
}

func newStageInput(stage *Stage) *StageInput {
	return &StageInput{
		stage:       stage,
		outputs:     make(map[string]map[string]*StageOutput),
		targetOrder: make(map[string][]string),
	}
}

// addOutput registers an upstream output, filtering out inactive targets,
// targets without samples, and outputs carrying neither data nor jobs.
func (in *StageInput) addOutput(out *StageOutput) {
	if !out.target.Active() {
		return
	}
	if len(out.target.SampleIDs(true)) == 0 {
		return
	}
	if out.data.IsEmpty() && len(out.jobs) == 0 {
		return
	}
	stageName := out.stageName
	targetID := out.target.ID()
	if _, ok := in.outputs[stageName]; !ok {
		in.outputs[stageName] = make(map[string]*StageOutput)
		in.stageOrder = append(in.stageOrder, stageName)
	}
	if _, ok := in.outputs[stageName][targetID]; !ok {
		in.targetOrder[stageName] = append(in.targetOrder[stageName], targetID)
	}
	in.outputs[stageName][targetID] = out
}

// Stage returns the stage this input was built for. Handlers use it to
// wrap their results, e.g. in.Stage().MakeOutputs(target, data, jobs...).
func (in *StageInput) Stage() *Stage { return in.stage }

// checkDeclared verifies the queried stage appears in RequiredStages.
func (in *StageInput) checkDeclared(stageName string) error {
	for _, req := range in.stage.required {
		if req.Name() == stageName {
			return nil
		}
	}
	return &WorkflowError{
		Message: fmt.Sprintf("%s: getting inputs from stage %s, but %s is not listed in RequiredStages",
			in.stage.Name(), stageName, stageName),
		Code: CodeStageNotDeclared,
	}
}

// Output returns the upstream output of stageName for the given target.
// It fails with a STAGE_NOT_DECLARED error for undeclared stages and wraps
// ErrStageInputNotFound when no output was recorded for the target.
func (in *StageInput) Output(stageName string, target Target) (*StageOutput, error) {
	if err := in.checkDeclared(stageName); err != nil {
		return nil, err
	}
	byTarget := in.outputs[stageName]
	if byTarget == nil {
		return nil, fmt.Errorf("%w: no outputs from stage %s for stage %s",
			ErrStageInputNotFound, stageName, in.stage.Name())
	}
	out, ok := byTarget[target.ID()]
	if !ok || out == nil {
		return nil, fmt.Errorf("%w: no output for target %s from stage %s, required for stage %s",
			ErrStageInputNotFound, target.ID(), stageName, in.stage.Name())
	}
	return out, nil
}

// AsPath returns the single path produced by stageName for target.
func (in *StageInput) AsPath(stageName string, target Target) (string, error) {
	out, err := in.Output(stageName, target)
	if err != nil {
		return "", err
	}
	return out.AsPath()
}

// PathAt returns the path under key produced by stageName for target.
func (in *StageInput) PathAt(stageName string, target Target, key string) (string, error) {
	out, err := in.Output(stageName, target)
	if err != nil {
		return "", err
	}
	return out.PathAt(key)
}

// AsPathMap returns the path map produced by stageName for target.
func (in *StageInput) AsPathMap(stageName string, target Target) (map[string]string, error) {
	out, err := in.Output(stageName, target)
	if err != nil {
		return nil, err
	}
	return out.AsPathMap()
}

// AsResource returns the opaque resource produced by stageName for target.
func (in *StageInput) AsResource(stageName string, target Target) (interface{}, error) {
	out, err := in.Output(stageName, target)
	if err != nil {
		return nil, err
	}
	return out.AsResource()
}

// checkHasOutputs verifies the queried stage recorded at least one output.
// An empty result here usually means every target was deactivated for
// missing inputs, so the error carries that hint.
func (in *StageInput) checkHasOutputs(stageName string) error {
	if len(in.outputs[stageName]) > 0 {
		return nil
	}
	return fmt.Errorf("%w: no outputs from stage %s found for stage %s after skipping targets with missing inputs; check the logs or consider changing first_stage",
		ErrStageInputNotFound, stageName, in.stage.Name())
}

// PathByTarget returns every single-path output of stageName, indexed by
// target ID. It fails on the first output whose data is not a single path,
// and when the upstream stage recorded no outputs at all.
func (in *StageInput) PathByTarget(stageName string) (map[string]string, error) {
	if err := in.checkDeclared(stageName); err != nil {
		return nil, err
	}
	if err := in.checkHasOutputs(stageName); err != nil {
		return nil, err
	}
	result := make(map[string]string)
	for _, targetID := range in.targetOrder[stageName] {
		p, err := in.outputs[stageName][targetID].AsPath()
		if err != nil {
			return nil, err
		}
		result[targetID] = p
	}
	return result, nil
}

// PathMapByTarget returns every path-map output of stageName, indexed by
// target ID. Like PathByTarget, it fails when the upstream stage recorded
// no outputs at all.
func (in *StageInput) PathMapByTarget(stageName string) (map[string]map[string]string, error) {
	if err := in.checkDeclared(stageName); err != nil {
		return nil, err
	}
	if err := in.checkHasOutputs(stageName); err != nil {
		return nil, err
	}
	result := make(map[string]map[string]string)
	for _, targetID := range in.targetOrder[stageName] {
		m, err := in.outputs[stageName][targetID].AsPathMap()
		if err != nil {
			return nil, err
		}
		result[targetID] = m
	}
	return result, nil
}

// Jobs returns the upstream job handles the given target's new work must
// wait on: every handle from upstream outputs whose target shares at least
// one sample ID with the given target.
func (in *StageInput) Jobs(target Target) []Job {
	these := make(map[string]struct{})
	for _, id := range target.SampleIDs(true) {
		these[id] = struct{}{}
	}
	var all []Job
	for _, stageName := range in.stageOrder {
		for _, targetID := range in.targetOrder[stageName] {
			out := in.outputs[stageName][targetID]
			if out == nil || len(out.jobs) == 0 {
				continue
			}
			overlap := false
			for _, id := range out.target.SampleIDs(true) {
				if _, ok := these[id]; ok {
					overlap = true
					break
				}
			}
			if overlap {
				all = append(all, out.jobs...)
			}
		}
	}
	return all
}
