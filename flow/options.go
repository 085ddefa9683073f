package flow

import (
	"github.com/google/uuid"

	"github.com/stageflow/stageflow-go/flow/emit"
)

// Option configures a Workflow during New.
type Option func(*Workflow) error

// WithEmitter sets the event emitter. The default swallows all events.
func WithEmitter(emitter emit.Emitter) Option {
	return func(w *Workflow) error {
		if emitter == nil {
			emitter = emit.NewNullEmitter()
		}
		w.emitter = emitter
		return nil
	}
}

// WithStatusReporter sets the analysis status reporter. Without one, queued
// and completed analyses are not recorded anywhere.
func WithStatusReporter(reporter StatusReporter) Option {
	return func(w *Workflow) error {
		w.reporter = reporter
		return nil
	}
}

// WithExistenceChecker sets the checker used to probe expected output paths.
// Required when the configuration enables check_expected_outputs. Results
// are cached for the lifetime of the run.
func WithExistenceChecker(checker ExistenceChecker) Option {
	return func(w *Workflow) error {
		if checker != nil {
			w.exists = newExistsCache(checker, w.metrics)
		}
		return nil
	}
}

// WithMetrics attaches Prometheus metrics. Pass this before
// WithExistenceChecker so existence-check counters are wired too.
func WithMetrics(m *Metrics) Option {
	return func(w *Workflow) error {
		w.metrics = m
		if w.exists != nil {
			w.exists.metrics = m
		}
		return nil
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(runID string) Option {
	return func(w *Workflow) error {
		if runID != "" {
			w.runID = runID
		}
		return nil
	}
}

// WithRegistry uses a dedicated stage registry instead of the package-level
// default. Useful for tests and for embedding several pipelines in one
// process.
func WithRegistry(r *Registry) Option {
	return func(w *Workflow) error {
		if r != nil {
			w.registry = r
		}
		return nil
	}
}

func newRunID() string {
	return uuid.NewString()
}
