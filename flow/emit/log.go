package emit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogEmitter implements Emitter by writing structured log output to a writer.
//
// Supports two output modes:
//   - Text mode (default): human-readable key=value lines
//   - JSON mode: one JSON object per line (JSONL)
//
// Example text output:
//
//	2026-08-26T10:04:05Z [decision] runID=run-001 stage=Align target=SAMPLE1 action=reuse
//
// Example JSON output:
//
//	{"runID":"run-001","stage":"Align","target":"SAMPLE1","action":"reuse","msg":"decision","meta":null,"time":"2026-08-26T10:04:05Z"}
type LogEmitter struct {
	mu       sync.Mutex
	writer   io.Writer
	jsonMode bool
}

// NewLogEmitter creates a LogEmitter writing to the given writer. A nil
// writer defaults to os.Stdout. With jsonMode set, events are emitted as
// JSONL instead of text.
func NewLogEmitter(writer io.Writer, jsonMode bool) *LogEmitter {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogEmitter{writer: writer, jsonMode: jsonMode}
}

// Emit writes an event to the configured writer.
func (l *LogEmitter) Emit(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.jsonMode {
		l.emitJSON(event)
	} else {
		l.emitText(event)
	}
}

func (l *LogEmitter) emitJSON(event Event) {
	data, err := json.Marshal(struct {
		RunID  string                 `json:"runID"`
		Stage  string                 `json:"stage,omitempty"`
		Target string                 `json:"target,omitempty"`
		Action string                 `json:"action,omitempty"`
		Msg    string                 `json:"msg"`
		Meta   map[string]interface{} `json:"meta"`
		Time   string                 `json:"time,omitempty"`
	}{
		RunID:  event.RunID,
		Stage:  event.Stage,
		Target: event.Target,
		Action: event.Action,
		Msg:    event.Msg,
		Meta:   event.Meta,
		Time:   formatEventTime(event.Time),
	})
	if err != nil {
		fmt.Fprintf(l.writer, "{\"error\":\"failed to marshal event: %v\"}\n", err)
		return
	}
	fmt.Fprintf(l.writer, "%s\n", data)
}

func (l *LogEmitter) emitText(event Event) {
	if !event.Time.IsZero() {
		fmt.Fprintf(l.writer, "%s ", event.Time.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(l.writer, "[%s] runID=%s", event.Msg, event.RunID)
	if event.Stage != "" {
		fmt.Fprintf(l.writer, " stage=%s", event.Stage)
	}
	if event.Target != "" {
		fmt.Fprintf(l.writer, " target=%s", event.Target)
	}
	if event.Action != "" {
		fmt.Fprintf(l.writer, " action=%s", event.Action)
	}
	if len(event.Meta) > 0 {
		if meta, err := json.Marshal(event.Meta); err == nil {
			fmt.Fprintf(l.writer, " meta=%s", meta)
		}
	}
	fmt.Fprintln(l.writer)
}

func formatEventTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
