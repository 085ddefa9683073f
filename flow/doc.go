// Package flow provides a declarative orchestrator for multi-level
// bioinformatics pipelines.
//
// A pipeline is declared as a set of stages, each producing outputs for a
// target: a single Sample, a Dataset (a container of samples), or the whole
// Cohort. The Workflow resolves dependencies between stages, including stages
// that were never requested explicitly but are required transitively, and
// decides per (stage, target) pair whether to queue fresh work, reuse
// existing outputs, or skip the target entirely.
//
// The actual execution of queued work belongs to an external job engine. The
// core only speaks to it through opaque Job handles and their DependsOn
// relation; it records ordering constraints and never waits for completion.
// Similarly, output existence checks and status reporting are pluggable
// collaborators (see ExistenceChecker and StatusReporter).
package flow
