package engine

import (
	"sync"

	"taskrelay/internal/host"
	"taskrelay/internal/telemetry"
)

// EventQueue serializes host start events through a single consumer, in the
// teacher's Executor.RunSerial style: one step, fully awaited (every
// downstream effect of handleStart completes), before the next is taken.
// This is what guarantees a parent's taskStarted always precedes its
// children's (spec.md §4.4, §5 ordering guarantee 1).
//
// Internally every enqueued item is a closure, not just a StartEvent, so
// tests can push a synchronization barrier (Sync) through the same FIFO
// the real events travel to observe "fully processed" without a handler
// that understands a sentinel event.
type EventQueue struct {
	jobs       chan func()
	handlerFor func(host.StartEvent)
	depth      *telemetry.Gauge

	closeOnce sync.Once
	done      chan struct{}
}

// NewEventQueue starts the consumer goroutine, invoking handler once per
// pushed event, fully serialized. depth, if non-nil, is updated with the
// queue's pending job count on every push and after every job completes.
func NewEventQueue(handler func(host.StartEvent), depth *telemetry.Gauge) *EventQueue {
	q := &EventQueue{
		jobs:       make(chan func(), 256),
		handlerFor: handler,
		depth:      depth,
		done:       make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *EventQueue) loop() {
	defer close(q.done)
	for job := range q.jobs {
		job()
		q.reportDepth()
	}
}

func (q *EventQueue) reportDepth() {
	if q.depth != nil {
		q.depth.Set(int64(len(q.jobs)))
	}
}

// Push enqueues ev for serialized processing. Never blocks the caller past
// the channel send itself.
func (q *EventQueue) Push(ev host.StartEvent) {
	handler := q.handlerFor
	q.jobs <- func() { handler(ev) }
	q.reportDepth()
}

// Sync blocks until every event pushed before this call has finished
// processing. Used by tests that need a deterministic point after which all
// queued start-event side effects (state writes, message emission) are
// visible.
func (q *EventQueue) Sync() {
	done := make(chan struct{})
	q.jobs <- func() { close(done) }
	<-done
}

// Close stops accepting new events and waits for the consumer to drain the
// queue of already-enqueued events.
func (q *EventQueue) Close() {
	q.closeOnce.Do(func() { close(q.jobs) })
	<-q.done
}
