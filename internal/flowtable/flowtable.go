// Package flowtable accumulates per-flow, per-observation-point byte counts
// and periodically collapses them into per-flow rate estimates.
package flowtable

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// FlowKey identifies a unidirectional transport-layer flow. It is a value
// type: equality and hashing are structural, and it is never mutated once
// built.
type FlowKey struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
}

// ObservationPoint identifies where a flow was witnessed: the sFlow
// exporter's source address and the sFlow-reported ingress interface index.
type ObservationPoint struct {
	AgentIP   string
	InputPort uint32
}

// FlowStats is the per-(FlowKey, ObservationPoint) accumulator.
type FlowStats struct {
	// ByteCountCurrent accumulates bytes observed since the last tick.
	ByteCountCurrent uint64
	// ByteCountPrevious holds the bytes observed during the prior tick.
	ByteCountPrevious uint64
	// AvgRate is the bits/s extrapolated from ByteCountPrevious at the
	// last tick via the sampling rate.
	AvgRate uint64
}

// FlowInfo is the full per-FlowKey record: one FlowStats per observation
// point that has ever reported this flow, plus the mean sending rate
// across observation points that reported traffic in the most recent tick
// in which any of them did.
type FlowInfo struct {
	Observations             map[ObservationPoint]*FlowStats
	EstimatedFlowSendingRate uint64
}

func newFlowInfo() *FlowInfo {
	return &FlowInfo{Observations: make(map[ObservationPoint]*FlowStats)}
}

// Table is the concurrency-safe store of FlowInfo records. One mutex
// protects it: receiver goroutines call RecordTCP concurrently with the
// aggregator's Tick pass, and the critical section in Tick is bounded by
// the number of flows times observation points, which stays cheap at the
// 1 Hz cadence this is designed for.
type Table struct {
	mu           sync.Mutex
	flows        map[FlowKey]*FlowInfo
	samplingRate uint64
	tickInterval time.Duration
	logger       *zap.Logger
}

// Config controls the rate-extrapolation math. SamplingRate is the sFlow
// packet-sampling denominator (1-in-N); TickInterval is the aggregation
// period. The formula avg_rate = bytes*8*SamplingRate/TickInterval.Seconds()
// reduces to spec's bytes*8*SamplingRate at the default 1s interval.
type Config struct {
	SamplingRate uint64
	TickInterval time.Duration
}

// New creates an empty flow table.
func New(cfg Config, logger *zap.Logger) *Table {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Table{
		flows:        make(map[FlowKey]*FlowInfo),
		samplingRate: cfg.SamplingRate,
		tickInterval: cfg.TickInterval,
		logger:       logger,
	}
}

// RecordTCP adds frameLength bytes to the current accumulator for the
// given flow and observation point. Callers are responsible for filtering
// to TCP-only flows before calling this (the gate lives at the dispatch
// site, not here, since the table itself has no notion of protocol).
func (t *Table) RecordTCP(key FlowKey, point ObservationPoint, frameLength uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.flows[key]
	if !ok {
		info = newFlowInfo()
		t.flows[key] = info
	}
	stats, ok := info.Observations[point]
	if !ok {
		stats = &FlowStats{}
		info.Observations[point] = stats
	}
	stats.ByteCountCurrent += frameLength
}

// Tick atomically promotes every accumulator's current byte count to
// previous, clears current, recomputes avg_rate, and publishes each
// flow's estimated sending rate as the mean of the nonzero avg_rates
// across its observation points. A flow with no nonzero avg_rate this
// tick keeps its previous estimate untouched (spec.md §9 note 3: the
// original's unguarded division by a zero hop count is replaced with a
// skip).
func (t *Table) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	intervalSeconds := t.tickInterval.Seconds()
	for key, info := range t.flows {
		var sum uint64
		var hops int
		for _, stats := range info.Observations {
			bytes := stats.ByteCountCurrent
			stats.ByteCountPrevious = bytes
			stats.ByteCountCurrent = 0
			stats.AvgRate = uint64(float64(bytes*8*t.samplingRate) / intervalSeconds)
			if stats.AvgRate != 0 {
				sum += stats.AvgRate
				hops++
			}
		}
		if hops == 0 {
			continue
		}
		info.EstimatedFlowSendingRate = sum / uint64(hops)
		t.logger.Debug("flow rate estimated",
			zap.String("src", key.SrcIP), zap.Uint16("src_port", key.SrcPort),
			zap.String("dst", key.DstIP), zap.Uint16("dst_port", key.DstPort),
			zap.Uint64("estimated_bps", info.EstimatedFlowSendingRate),
			zap.Int("observation_points", hops),
		)
	}
}

// Snapshot returns a deep, consistent copy of every FlowInfo, safe for a
// reader to inspect without racing a concurrent Tick.
func (t *Table) Snapshot() map[FlowKey]FlowInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[FlowKey]FlowInfo, len(t.flows))
	for key, info := range t.flows {
		copied := FlowInfo{
			Observations:             make(map[ObservationPoint]*FlowStats, len(info.Observations)),
			EstimatedFlowSendingRate: info.EstimatedFlowSendingRate,
		}
		for point, stats := range info.Observations {
			s := *stats
			copied.Observations[point] = &s
		}
		out[key] = copied
	}
	return out
}
