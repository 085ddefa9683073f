package emit

import "sync"

// BufferedEmitter implements Emitter by storing events in memory.
//
// Events are organized by runID and can be queried and filtered after the
// fact, which makes this emitter the workhorse of tests and debugging
// sessions. All events stay in memory; long-lived processes should clear
// finished runs.
//
// Example:
//
//	emitter := emit.NewBufferedEmitter()
//	// ... run a workflow with this emitter ...
//	decisions := emitter.HistoryWithFilter("run-001", emit.HistoryFilter{Msg: "decision"})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event // runID -> events
}

// HistoryFilter specifies criteria for filtering recorded events. All
// fields are optional and combined with AND logic.
type HistoryFilter struct {
	// Stage filters by stage name (empty = no filter).
	Stage string

	// Target filters by target ID (empty = no filter).
	Target string

	// Msg filters by event name (empty = no filter).
	Msg string

	// Action filters by decision action (empty = no filter).
	Action string
}

// NewBufferedEmitter creates a BufferedEmitter. Safe for concurrent use.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{events: make(map[string][]Event)}
}

// Emit stores an event in the buffer.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// History returns all events for a runID in emission order. The returned
// slice is a copy.
func (b *BufferedEmitter) History(runID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := b.events[runID]
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryWithFilter returns the events for a runID matching the filter, in
// emission order.
func (b *BufferedEmitter) HistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, event := range b.events[runID] {
		if filter.Stage != "" && event.Stage != filter.Stage {
			continue
		}
		if filter.Target != "" && event.Target != filter.Target {
			continue
		}
		if filter.Msg != "" && event.Msg != filter.Msg {
			continue
		}
		if filter.Action != "" && event.Action != filter.Action {
			continue
		}
		out = append(out, event)
	}
	return out
}

// Clear removes all events for a runID.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, runID)
}

// ClearAll removes all recorded events.
func (b *BufferedEmitter) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = make(map[string][]Event)
}
