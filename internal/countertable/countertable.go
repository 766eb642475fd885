// Package countertable tracks per-(agent, interface) octet counters and
// derives link input/output byte rates from successive counter samples.
package countertable

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/netweaver/sflowcollector/internal/flowtable"
)

// Record is the per-observation-point counter state: the last report time
// and the last octet counts seen, used to compute a delta on the next
// sample.
type Record struct {
	LastReportTime   time.Time
	LastInputOctets  uint64
	LastOutputOctets uint64
}

// Table stores one Record per ObservationPoint. It has its own mutex,
// independent of the flow table's, though nothing prevents callers from
// sharing a single dispatch loop across both.
type Table struct {
	mu      sync.Mutex
	records map[flowtable.ObservationPoint]*Record
	logger  *zap.Logger
}

// New creates an empty counter table.
func New(logger *zap.Logger) *Table {
	return &Table{
		records: make(map[flowtable.ObservationPoint]*Record),
		logger:  logger,
	}
}

// Update records a new counter sample for the given observation point and
// returns the derived input/output byte rates (bytes/s). ok is false when
// there is no prior baseline (first sample for this point), when Δt is not
// positive, or when a counter reset was detected (current < previous) —
// in all three cases, no delta is reported, and the stored baseline is
// rebased to the new sample so recovery from a reset takes exactly one
// sample.
func (t *Table) Update(point flowtable.ObservationPoint, now time.Time, inputOctets, outputOctets uint64) (inputBps, outputBps uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.records[point]
	if !exists {
		t.records[point] = &Record{
			LastReportTime:   now,
			LastInputOctets:  inputOctets,
			LastOutputOctets: outputOctets,
		}
		return 0, 0, false
	}

	deltaSeconds := now.Sub(rec.LastReportTime).Seconds()
	reset := inputOctets < rec.LastInputOctets || outputOctets < rec.LastOutputOctets
	if reset {
		t.logger.Warn("counter reset detected, rebasing",
			zap.String("agent", point.AgentIP), zap.Uint32("port", point.InputPort),
		)
	}

	if deltaSeconds <= 0 || reset {
		rec.LastReportTime = now
		rec.LastInputOctets = inputOctets
		rec.LastOutputOctets = outputOctets
		return 0, 0, false
	}

	inputBps = uint64(float64(inputOctets-rec.LastInputOctets) / deltaSeconds)
	outputBps = uint64(float64(outputOctets-rec.LastOutputOctets) / deltaSeconds)

	rec.LastReportTime = now
	rec.LastInputOctets = inputOctets
	rec.LastOutputOctets = outputOctets

	return inputBps, outputBps, true
}

// Snapshot returns a copy of every tracked Record.
func (t *Table) Snapshot() map[flowtable.ObservationPoint]Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[flowtable.ObservationPoint]Record, len(t.records))
	for point, rec := range t.records {
		out[point] = *rec
	}
	return out
}
