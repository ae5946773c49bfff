package messages

import (
	"sync"
	"time"
)

// Emitter keeps an append-only log of every message it has ever sent and
// forwards each one, in order, to a Sink. Reconnecting views fetch Snapshot
// and replay from whatever seq they last saw, so emission is idempotent on
// reconnect: resending an already-seen prefix is harmless.
type Emitter struct {
	mu   sync.Mutex
	sink Sink
	log  []Message
	next uint64
}

// NewEmitter returns an Emitter forwarding to sink. A nil sink is replaced
// with NopSink.
func NewEmitter(sink Sink) *Emitter {
	if sink == nil {
		sink = NopSink{}
	}
	return &Emitter{sink: sink, next: 1}
}

// Emit appends a new message of the given type and payload, stamps it with
// the next sequence number and the current time, forwards it to the sink,
// and returns it.
func (e *Emitter) Emit(t Type, payload map[string]any) Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	msg := Message{Seq: e.next, Type: t, Timestamp: now(), Payload: payload}
	e.next++
	e.log = append(e.log, msg)
	e.sink.Send(msg)
	return msg
}

// Snapshot returns every message recorded so far, in emission order. The
// returned slice is a copy; callers may retain it indefinitely.
func (e *Emitter) Snapshot() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.log))
	copy(out, e.log)
	return out
}

// Since returns every message with Seq > seq, for a view reconnecting with
// the last sequence number it saw.
func (e *Emitter) Since(seq uint64) []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Message
	for _, m := range e.log {
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}

// now is a seam for deterministic tests; production code never overrides it.
var now = time.Now
