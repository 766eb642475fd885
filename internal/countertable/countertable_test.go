package countertable

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/netweaver/sflowcollector/internal/flowtable"
)

// S5 — counter delta: 1,000,000 -> 2,000,000 input octets over 10s yields
// a 100,000 bytes/s input rate.
func TestCounterDelta(t *testing.T) {
	tbl := New(zap.NewNop())
	point := flowtable.ObservationPoint{AgentIP: "192.168.1.1", InputPort: 3}
	t0 := time.Unix(0, 0)

	if _, _, ok := tbl.Update(point, t0, 1_000_000, 0); ok {
		t.Fatalf("first sample should have no baseline")
	}

	inBps, _, ok := tbl.Update(point, t0.Add(10*time.Second), 2_000_000, 0)
	if !ok {
		t.Fatalf("second sample should produce a delta")
	}
	if inBps != 100_000 {
		t.Errorf("inBps = %d, want 100000", inBps)
	}
}

func TestCounterResetDiscarded(t *testing.T) {
	tbl := New(zap.NewNop())
	point := flowtable.ObservationPoint{AgentIP: "192.168.1.1", InputPort: 3}
	t0 := time.Unix(0, 0)

	tbl.Update(point, t0, 5_000_000, 5_000_000)

	// Counter appears to have reset (device rebooted).
	_, _, ok := tbl.Update(point, t0.Add(5*time.Second), 100, 100)
	if ok {
		t.Fatalf("expected reset sample to be discarded, not a huge delta")
	}

	// Next sample establishes a fresh baseline and produces a normal delta.
	inBps, outBps, ok := tbl.Update(point, t0.Add(10*time.Second), 600, 700)
	if !ok {
		t.Fatalf("expected a delta once rebased")
	}
	if inBps != 100 || outBps != 120 {
		t.Errorf("inBps=%d outBps=%d, want 100,120", inBps, outBps)
	}
}

func TestCounterNonPositiveIntervalDiscarded(t *testing.T) {
	tbl := New(zap.NewNop())
	point := flowtable.ObservationPoint{AgentIP: "192.168.1.1", InputPort: 3}
	t0 := time.Unix(0, 0)

	tbl.Update(point, t0, 1000, 1000)
	_, _, ok := tbl.Update(point, t0, 2000, 2000)
	if ok {
		t.Fatalf("expected zero-interval sample to be discarded")
	}
}
