// Package messages defines the outbound message contract from the engine to
// the view (spec.md §6) and an append-only, idempotent-on-reconnect emitter
// for it, modeled on the teacher's trace.Recorder/ExecutionTrace: canonical
// field ordering and a Snapshot() for point-in-time reads, repurposed from
// "deterministic execution trace for proofs" to "replayable message log."
package messages

import (
	"encoding/json"
	"sort"
	"time"
)

// Type enumerates the outbound message vocabulary from spec.md §6.
type Type string

const (
	UpdateTasks             Type = "updateTasks"
	TaskStarted             Type = "taskStarted"
	TaskCompleted           Type = "taskCompleted"
	TaskEnded               Type = "taskEnded"
	SubtaskStarted          Type = "subtaskStarted"
	SubtaskEnded            Type = "subtaskEnded"
	TaskStateChanged        Type = "taskStateChanged"
	DismissTaskGroup        Type = "dismissTaskGroup"
	UpdateNavigationHistory Type = "updateNavigationHistory"
	UpdateRecentlyUsed      Type = "updateRecentlyUsed"
	UpdateStarred           Type = "updateStarred"
	ExecutionHistory        Type = "executionHistory"
	PanelState              Type = "panelState"
	LogBuffer               Type = "logBuffer"
	LoadMdx                 Type = "loadMdx"
	Error                   Type = "error"
)

// Message is one outbound, side-effect-free description of state. Payload
// carries the type-specific fields as a plain map so the emitter never needs
// a type switch to append-log or replay a message.
type Message struct {
	Seq       uint64         `json:"seq"`
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// canonicalJSON renders m with its payload's keys sorted, so two emitters
// fed the same logical message always produce byte-identical output —
// useful for log comparison in tests, the same property the teacher's
// trace.TraceEvent.MarshalJSON preserves for its event stream.
func (m Message) canonicalJSON() ([]byte, error) {
	keys := make([]string, 0, len(m.Payload))
	for k := range m.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type wire struct {
		Seq       uint64          `json:"seq"`
		Type      Type            `json:"type"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}

	ordered := make([]byte, 0, 64)
	ordered = append(ordered, '{')
	for i, k := range keys {
		if i > 0 {
			ordered = append(ordered, ',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(m.Payload[k])
		if err != nil {
			return nil, err
		}
		ordered = append(ordered, kb...)
		ordered = append(ordered, ':')
		ordered = append(ordered, vb...)
	}
	ordered = append(ordered, '}')

	return json.Marshal(wire{Seq: m.Seq, Type: m.Type, Timestamp: m.Timestamp, Payload: ordered})
}

// Sink receives every message an Emitter records, e.g. a websocket transport
// to the view. Sink implementations must not block the emitter for long;
// a slow view should buffer on its own side.
type Sink interface {
	Send(Message)
}

// NopSink discards every message; used where only the replay log matters
// (tests, headless CLI runs).
type NopSink struct{}

func (NopSink) Send(Message) {}

