// Package emit provides observability events and pluggable emitters for
// workflow planning and execution decisions.
package emit

import "time"

// Event represents an observability event emitted while a workflow resolves
// its stage graph and decides per-target actions.
//
// Events cover:
//   - Stage graph resolution (implicit stage discovery, window truncation)
//   - Per-target decisions (queue, skip, reuse) with their reasons
//   - Target deactivation
//   - Per-stage error aggregation
//   - Status reporter failures
//
// Events are emitted to an Emitter which can log them, turn them into
// OpenTelemetry spans, or buffer them for inspection.
type Event struct {
	// RunID identifies the workflow run that emitted this event.
	RunID string

	// Stage is the stage the event refers to. Empty for run-level events.
	Stage string

	// Target is the target ID the event refers to. Empty for stage-level
	// and run-level events.
	Target string

	// Action is the decision taken for (Stage, Target), when the event
	// records a decision: "queue", "skip", or "reuse".
	Action string

	// Msg is a short machine-friendly event name, e.g. "stage_resolved",
	// "decision", "target_deactivated", "status_report_failed".
	Msg string

	// Meta contains additional structured data specific to this event.
	// Common keys:
	//   - "reason": why a target was skipped or deactivated
	//   - "missing_path": first expected output that failed the check
	//   - "error": error details
	//   - "stages": resolved stage order
	Meta map[string]interface{}

	// Time is when the event was emitted. The workflow fills it in;
	// emitters render it when set and a zero Time is omitted.
	Time time.Time
}

// Emitter receives and processes observability events.
//
// Implementations should be non-blocking, safe for concurrent use, and
// resilient: an emitter must never panic or abort a run. Errors are to be
// handled internally.
type Emitter interface {
	// Emit sends an event to the configured backend. It must not block
	// workflow planning; slow backends should buffer or drop.
	Emit(event Event)
}
