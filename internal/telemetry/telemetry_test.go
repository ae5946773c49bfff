package telemetry

import (
	"testing"
	"time"
)

func TestCounterAddsUp(t *testing.T) {
	c := NewCounter("x")
	c.Inc()
	c.Add(4)
	if c.Value() != 5 {
		t.Fatalf("expected 5, got %d", c.Value())
	}
}

func TestGaugeTracksLatestSet(t *testing.T) {
	g := NewGauge("depth")
	g.Set(3)
	g.Set(7)
	if g.Value() != 7 {
		t.Fatalf("expected 7, got %d", g.Value())
	}
}

func TestTimerComputesMean(t *testing.T) {
	timer := NewTimer("op")
	timer.Observe(100 * time.Millisecond)
	timer.Observe(300 * time.Millisecond)

	count, mean := timer.Snapshot()
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if mean != 200*time.Millisecond {
		t.Fatalf("expected mean 200ms, got %s", mean)
	}
}

func TestTimerSnapshotEmptyIsZero(t *testing.T) {
	timer := NewTimer("empty")
	count, mean := timer.Snapshot()
	if count != 0 || mean != 0 {
		t.Fatalf("expected zero snapshot, got count=%d mean=%s", count, mean)
	}
}

func TestNewRegistryInitializesAllMetrics(t *testing.T) {
	r := NewRegistry()
	if r.QueueDepth == nil || r.StopProtocolCompleted == nil || r.StopProtocolFailed == nil ||
		r.PersistenceErrors == nil || r.HandleStartDuration == nil {
		t.Fatal("expected every metric in the registry to be initialized")
	}
}
