// Package telemetry provides lightweight, dependency-free counters and
// timers so operators can see queue depth, stop-protocol outcomes, and
// persistence error rates without a full metrics backend (see DESIGN.md for
// why no external exporter is wired). Every observation is also surfaced
// through internal/logging at debug level, so a plain log tail is enough to
// watch these in place of a dashboard.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"taskrelay/internal/logging"
)

var log = logging.NewComponentLogger("telemetry")

// Counter is a monotonically increasing named count.
type Counter struct {
	name  string
	value int64
}

// NewCounter returns a zeroed counter with the given name.
func NewCounter(name string) *Counter { return &Counter{name: name} }

// Inc increments the counter by 1 and logs the new value at debug level.
func (c *Counter) Inc() { c.Add(1) }

// Add increments the counter by delta.
func (c *Counter) Add(delta int64) {
	v := atomic.AddInt64(&c.value, delta)
	log.Debug("counter %s = %d", c.name, v)
}

// Value returns the counter's current value.
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a point-in-time named value that can move in either direction,
// used for queue depth.
type Gauge struct {
	name  string
	value int64
}

// NewGauge returns a zeroed gauge with the given name.
func NewGauge(name string) *Gauge { return &Gauge{name: name} }

// Set records v as the gauge's current value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
	log.Debug("gauge %s = %d", g.name, v)
}

// Value returns the gauge's current value.
func (g *Gauge) Value() int64 { return atomic.LoadInt64(&g.value) }

// Timer records a named distribution of durations and exposes a running
// count/sum, enough for an operator to compute an average without a real
// histogram backend.
type Timer struct {
	mu    sync.Mutex
	name  string
	count int64
	sum   time.Duration
}

// NewTimer returns an empty timer with the given name.
func NewTimer(name string) *Timer { return &Timer{name: name} }

// Observe records one duration sample.
func (t *Timer) Observe(d time.Duration) {
	t.mu.Lock()
	t.count++
	t.sum += d
	count, sum := t.count, t.sum
	t.mu.Unlock()
	log.Debug("timer %s observed %s (count=%d avg=%s)", t.name, d, count, sum/time.Duration(count))
}

// Snapshot returns the sample count and mean duration observed so far.
func (t *Timer) Snapshot() (count int64, mean time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0, 0
	}
	return t.count, t.sum / time.Duration(t.count)
}

// Registry is the set of counters/gauges/timers the engine and stop protocol
// report to. A single process-wide instance is enough; it carries no
// dependency on the engine package to avoid an import cycle.
type Registry struct {
	QueueDepth            *Gauge
	StopProtocolCompleted  *Counter
	StopProtocolFailed     *Counter
	PersistenceErrors      *Counter
	HandleStartDuration    *Timer
}

// NewRegistry returns a ready Registry with every metric initialized.
func NewRegistry() *Registry {
	return &Registry{
		QueueDepth:            NewGauge("event_queue_depth"),
		StopProtocolCompleted: NewCounter("stop_protocol_completed_total"),
		StopProtocolFailed:    NewCounter("stop_protocol_failed_total"),
		PersistenceErrors:     NewCounter("persistence_errors_total"),
		HandleStartDuration:   NewTimer("handle_start_duration"),
	}
}
