package flow

import (
	"context"
	"fmt"
)

// decideAction determines what to do with a target for a stage: queue fresh
// work, skip the target, or reuse existing outputs.
//
// The rules apply in strict priority order:
//  1. A forced target always queues, unless the stage itself is skipped.
//  2. A per-target skip list entry is a hard override.
//  3. Reusability is computed from the stage's expected outputs.
//  4. A skipped (required-but-not-requested) stage either reuses verified
//     outputs, drops the target when configured to, reuses optimistically
//     when allow-listed, or fails the run.
//  5. Reusable outputs are reused unless the target or stage is forced.
//  6. Everything else queues.
func (w *Workflow) decideAction(ctx context.Context, s *Stage, target Target) (Action, error) {
	if target.Forced() && !s.skipped {
		return ActionQueue, nil
	}

	if skipTargets := w.cfg.skipTargetsFor(s.Name()); containsString(skipTargets, target.ID()) {
		w.emitDecision(s, target, ActionSkip, map[string]interface{}{
			"reason": "target listed in skip_samples_stages",
		})
		return ActionSkip, nil
	}

	expected, err := s.expectedOutputs(target)
	if err != nil {
		return 0, err
	}

	reusable, firstMissing, err := w.isReusable(ctx, s, expected)
	if err != nil {
		return 0, err
	}

	if s.skipped {
		if reusable && firstMissing == "" {
			return ActionReuse, nil
		}
		if w.cfg.SkipSamplesWithMissingInput {
			// The target has no usable results from this required stage,
			// and the configuration says to drop it rather than fail. The
			// deactivation is permanent for the rest of the run.
			target.SetActive(false)
			w.metrics.observeTargetDeactivated()
			w.emit(s.Name(), target.ID(), ActionSkip.String(), "target_deactivated", map[string]interface{}{
				"reason":       "required stage is skipped and expected outputs are missing",
				"missing_path": firstMissing,
			})
			return ActionSkip, nil
		}
		if containsString(w.cfg.AllowMissingOutputsForStages, s.Name()) {
			return ActionReuse, nil
		}
		return 0, &WorkflowError{
			Message: fmt.Sprintf("stage %s is required, but is skipped, and the expected outputs for target %s do not exist: %s",
				s.Name(), target.ID(), firstMissing),
			Code: CodeMissingOutputs,
		}
	}

	if reusable && firstMissing == "" {
		if target.Forced() {
			w.emitDecision(s, target, ActionQueue, map[string]interface{}{
				"reason": "can reuse, but target is forced to rerun",
			})
			return ActionQueue, nil
		}
		if s.forced {
			w.emitDecision(s, target, ActionQueue, map[string]interface{}{
				"reason": "can reuse, but stage is forced to rerun",
			})
			return ActionQueue, nil
		}
		w.emitDecision(s, target, ActionReuse, nil)
		return ActionReuse, nil
	}

	w.emitDecision(s, target, ActionQueue, nil)
	return ActionQueue, nil
}

// isReusable computes whether the stage's expected outputs for a target can
// be reused, and the first missing path when they cannot.
//
// Priority:
//   - assumeOutputsExist trusts the outputs unconditionally.
//   - With check_expected_outputs enabled, every checkable path leaf is
//     probed (through the per-run cache); an expected-output declaration
//     with no checkable paths is never reusable.
//   - With checking disabled, skipped stages are trusted to have produced
//     prior outputs, all others are assumed to have none.
func (w *Workflow) isReusable(ctx context.Context, s *Stage, expected ExpectedOutput) (bool, string, error) {
	if s.assumeOutputsExist {
		return true, "", nil
	}

	if w.cfg.CheckExpectedOutputs {
		paths := expected.checkablePaths()
		if len(paths) == 0 {
			return false, "", nil
		}
		for _, path := range paths {
			found, err := w.exists.Exists(ctx, path)
			if err != nil {
				return false, "", err
			}
			if !found {
				return false, path, nil
			}
		}
		return true, "", nil
	}

	if s.skipped {
		// No checking configured: trust that skipped stages produced
		// their outputs in a previous run.
		return true, "", nil
	}
	return false, "", nil
}
