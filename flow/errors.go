package flow

import "errors"

// ErrNoStagesToRun indicates that after resolution every stage in the graph
// ended up skipped, so there is no work to plan.
var ErrNoStagesToRun = errors.New("no stages to run")

// ErrStageInputNotFound is returned when a stage queries an upstream output
// that was never recorded for the requested target, typically because the
// target was deactivated or the upstream stage produced nothing for it.
var ErrStageInputNotFound = errors.New("stage input not found")

// WorkflowError represents a fatal configuration or planning error.
//
// These errors abort the run before any work is handed to the job engine:
// duplicate stage names, unresolvable required stages, unknown first/last
// stage names, undeclared input queries, and skipped-but-required stages
// with missing outputs all surface as WorkflowError.
type WorkflowError struct {
	// Message is the human-readable error description.
	Message string

	// Code is a machine-readable error code for programmatic handling.
	Code string
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Error codes carried by WorkflowError.
const (
	CodeDuplicateStage    = "DUPLICATE_STAGE"
	CodeStageNotFound     = "STAGE_NOT_FOUND"
	CodeStageNotDeclared  = "STAGE_NOT_DECLARED"
	CodeGraphCycle        = "GRAPH_CYCLE"
	CodeUnknownFirstStage = "UNKNOWN_FIRST_STAGE"
	CodeUnknownLastStage  = "UNKNOWN_LAST_STAGE"
	CodeMissingOutputs    = "MISSING_OUTPUTS"
	CodeDataShape         = "DATA_SHAPE"
	CodeInvalidSpec       = "INVALID_SPEC"
	CodeExistsCheck       = "EXISTS_CHECK_FAILED"
	CodeStageFailed       = "STAGE_FAILED"
	CodeNoCohort          = "NO_COHORT"
)
