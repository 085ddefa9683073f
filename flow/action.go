package flow

// Action is the decision the engine makes for one (stage, target) pair.
//
// Exactly one action is chosen per pair and per run:
//   - ActionQueue: hand fresh work to the job engine.
//   - ActionSkip: produce nothing for this target.
//   - ActionReuse: synthesize outputs from the stage's expected paths
//     without queueing any work.
type Action int

const (
	// ActionQueue schedules the stage's work for the target.
	ActionQueue Action = iota

	// ActionSkip produces no output for the target.
	ActionSkip

	// ActionReuse records the expected outputs as already present.
	ActionReuse
)

// String returns the lowercase name of the action.
func (a Action) String() string {
	switch a {
	case ActionQueue:
		return "queue"
	case ActionSkip:
		return "skip"
	case ActionReuse:
		return "reuse"
	default:
		return "unknown"
	}
}
