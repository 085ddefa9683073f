package flow

import (
	"fmt"
	"sort"
	"strings"
)

// ExpectedOutput declares what a stage is expected to produce for a target.
//
// It is a tagged union with three shapes:
//   - none: the stage produces nothing checkable (ExpectNone).
//   - a single path (ExpectPath).
//   - named entries (ExpectEntries), where each entry is either a checkable
//     path or a plain reference string that is excluded from existence
//     checks (for example an index name in an external service).
//
// The decision engine collects the checkable path leaves to decide whether
// outputs can be reused; reference entries still appear in reused output
// data, they are just never probed for existence.
type ExpectedOutput struct {
	kind    expectedKind
	path    string
	keys    []string
	entries map[string]expectedEntry
}

type expectedKind int

const (
	expectedNone expectedKind = iota
	expectedPath
	expectedEntries
)

type expectedEntry struct {
	value     string
	reference bool
}

// ExpectNone declares that the stage has no checkable outputs.
func ExpectNone() ExpectedOutput {
	return ExpectedOutput{kind: expectedNone}
}

// ExpectPath declares a single expected output path.
func ExpectPath(path string) ExpectedOutput {
	return ExpectedOutput{kind: expectedPath, path: path}
}

// ExpectEntries declares a set of named expected outputs.
func ExpectEntries(entries ...ExpectedEntry) ExpectedOutput {
	e := ExpectedOutput{kind: expectedEntries, entries: make(map[string]expectedEntry, len(entries))}
	for _, entry := range entries {
		if _, ok := e.entries[entry.Key]; !ok {
			e.keys = append(e.keys, entry.Key)
		}
		e.entries[entry.Key] = expectedEntry{value: entry.Value, reference: entry.Reference}
	}
	return e
}

// ExpectedEntry is one named entry of an ExpectedOutput.
type ExpectedEntry struct {
	Key   string
	Value string

	// Reference marks the entry as a plain string that is never checked
	// for existence.
	Reference bool
}

// PathEntry returns a checkable path entry.
func PathEntry(key, path string) ExpectedEntry {
	return ExpectedEntry{Key: key, Value: path}
}

// RefEntry returns a reference entry, excluded from existence checks.
func RefEntry(key, value string) ExpectedEntry {
	return ExpectedEntry{Key: key, Value: value, Reference: true}
}

// IsNone reports whether no outputs were declared.
func (e ExpectedOutput) IsNone() bool { return e.kind == expectedNone }

// checkablePaths returns the path-valued leaves, in declaration order.
func (e ExpectedOutput) checkablePaths() []string {
	switch e.kind {
	case expectedPath:
		return []string{e.path}
	case expectedEntries:
		var paths []string
		for _, k := range e.keys {
			if entry := e.entries[k]; !entry.reference {
				paths = append(paths, entry.value)
			}
		}
		return paths
	default:
		return nil
	}
}

// toData converts the declaration into output data for reuse synthesis.
// Reference entries are carried over as paths, matching the declared shape.
func (e ExpectedOutput) toData() OutputData {
	switch e.kind {
	case expectedPath:
		return PathData(e.path)
	case expectedEntries:
		m := make(map[string]string, len(e.entries))
		for k, entry := range e.entries {
			m[k] = entry.value
		}
		return PathMapData(m)
	default:
		return NoData()
	}
}

// OutputData is the tagged union held by a StageOutput: nothing, a single
// path, a mapping of named paths, or an opaque resource produced by the job
// engine. Accessors fail loudly when the stored shape does not match the
// requested one; there is no silent coercion.
type OutputData struct {
	kind     dataKind
	path     string
	keys     []string
	paths    map[string]string
	resource interface{}
}

type dataKind int

const (
	dataNone dataKind = iota
	dataPath
	dataPathMap
	dataResource
)

// NoData returns empty output data.
func NoData() OutputData { return OutputData{kind: dataNone} }

// PathData wraps a single output path.
func PathData(path string) OutputData { return OutputData{kind: dataPath, path: path} }

// PathMapData wraps a mapping of named output paths.
// Keys are ordered lexicographically for deterministic iteration.
func PathMapData(paths map[string]string) OutputData {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	copied := make(map[string]string, len(paths))
	for k, v := range paths {
		copied[k] = v
	}
	return OutputData{kind: dataPathMap, keys: keys, paths: copied}
}

// ResourceData wraps an opaque execution-produced resource.
func ResourceData(resource interface{}) OutputData {
	return OutputData{kind: dataResource, resource: resource}
}

// IsEmpty reports whether no data is held.
func (d OutputData) IsEmpty() bool { return d.kind == dataNone }

// String renders the data for logging and status reports.
func (d OutputData) String() string {
	switch d.kind {
	case dataPath:
		return d.path
	case dataPathMap:
		parts := make([]string, 0, len(d.keys))
		for _, k := range d.keys {
			parts = append(parts, k+"="+d.paths[k])
		}
		return strings.Join(parts, ",")
	case dataResource:
		return fmt.Sprintf("resource(%v)", d.resource)
	default:
		return ""
	}
}

// StageOutput records the result of running, reusing, or failing a stage for
// one target. Outputs are immutable once recorded in a stage's output map;
// only the workflow driver merges job attributes into Meta, once, before
// recording.
type StageOutput struct {
	stageName string
	target    Target
	data      OutputData
	jobs      []Job
	meta      map[string]interface{}
	reusable  bool
	skipped   bool
	errorMsg  string
}

// StageName returns the name of the stage that produced this output.
func (o *StageOutput) StageName() string { return o.stageName }

// Target returns the target this output was produced for.
func (o *StageOutput) Target() Target { return o.target }

// Data returns the output data union.
func (o *StageOutput) Data() OutputData { return o.data }

// Jobs returns the job handles queued for this output.
func (o *StageOutput) Jobs() []Job { return o.jobs }

// Meta returns the output metadata.
func (o *StageOutput) Meta() map[string]interface{} { return o.meta }

// Reusable reports whether the output was synthesized from existing paths.
func (o *StageOutput) Reusable() bool { return o.reusable }

// Skipped reports whether the producing stage was a skipped required stage.
func (o *StageOutput) Skipped() bool { return o.skipped }

// ErrorMessage returns the per-target execution error, if any.
func (o *StageOutput) ErrorMessage() string { return o.errorMsg }

// AsPath returns the single stored path, or a DATA_SHAPE error if the data
// is not a single path.
func (o *StageOutput) AsPath() (string, error) {
	switch o.data.kind {
	case dataPath:
		return o.data.path, nil
	case dataPathMap:
		if len(o.data.keys) == 1 {
			return o.data.paths[o.data.keys[0]], nil
		}
		return "", &WorkflowError{
			Message: fmt.Sprintf("%s: output for %s is a map of %d paths, use PathAt", o.stageName, o.target.ID(), len(o.data.keys)),
			Code:    CodeDataShape,
		}
	case dataNone:
		return "", &WorkflowError{
			Message: fmt.Sprintf("%s: output data for %s is not available", o.stageName, o.target.ID()),
			Code:    CodeDataShape,
		}
	default:
		return "", &WorkflowError{
			Message: fmt.Sprintf("%s: output for %s is a resource, not a path", o.stageName, o.target.ID()),
			Code:    CodeDataShape,
		}
	}
}

// PathAt returns the stored path under key, or a DATA_SHAPE error if the
// data is not a path map or the key is absent.
func (o *StageOutput) PathAt(key string) (string, error) {
	if o.data.kind != dataPathMap {
		return "", &WorkflowError{
			Message: fmt.Sprintf("%s: output for %s is not a map of paths, can't get %q", o.stageName, o.target.ID(), key),
			Code:    CodeDataShape,
		}
	}
	p, ok := o.data.paths[key]
	if !ok {
		return "", &WorkflowError{
			Message: fmt.Sprintf("%s: output for %s has no entry %q", o.stageName, o.target.ID(), key),
			Code:    CodeDataShape,
		}
	}
	return p, nil
}

// AsPathMap returns the stored path map, or a DATA_SHAPE error.
func (o *StageOutput) AsPathMap() (map[string]string, error) {
	if o.data.kind != dataPathMap {
		return nil, &WorkflowError{
			Message: fmt.Sprintf("%s: output for %s is not a map of paths", o.stageName, o.target.ID()),
			Code:    CodeDataShape,
		}
	}
	m := make(map[string]string, len(o.data.paths))
	for k, v := range o.data.paths {
		m[k] = v
	}
	return m, nil
}

// AsResource returns the stored opaque resource, or a DATA_SHAPE error.
func (o *StageOutput) AsResource() (interface{}, error) {
	if o.data.kind != dataResource {
		return nil, &WorkflowError{
			Message: fmt.Sprintf("%s: output for %s is not a resource", o.stageName, o.target.ID()),
			Code:    CodeDataShape,
		}
	}
	return o.data.resource, nil
}

// mergeMeta folds attrs into the output metadata without overwriting keys
// already set by the stage. Called once by the driver before recording.
func (o *StageOutput) mergeMeta(attrs map[string]string) {
	if o.meta == nil {
		o.meta = make(map[string]interface{}, len(attrs))
	}
	for k, v := range attrs {
		if _, ok := o.meta[k]; !ok {
			o.meta[k] = v
		}
	}
}

// String renders the output for logging.
func (o *StageOutput) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "StageOutput(%s, target=%s", o.data.String(), o.target.ID())
	if o.stageName != "" {
		fmt.Fprintf(&b, ", stage=%s", o.stageName)
	}
	if o.reusable {
		b.WriteString(" [reusable]")
	}
	if o.skipped {
		b.WriteString(" [skipped]")
	}
	if o.errorMsg != "" {
		fmt.Fprintf(&b, " [error: %s]", o.errorMsg)
	}
	b.WriteString(")")
	return b.String()
}
