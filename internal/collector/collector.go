// Package collector runs the UDP receive loop and the periodic
// aggregation tick that together drive the sFlow decoding pipeline.
package collector

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/netweaver/sflowcollector/internal/countertable"
	"github.com/netweaver/sflowcollector/internal/flowtable"
	"github.com/netweaver/sflowcollector/internal/sflow"
)

// protocolTCP is the only transport protocol whose flow samples are
// recorded, per spec.md §4.2.
const protocolTCP = 6

// State is the collector's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config controls the collector's network and aggregation behavior. The
// flow table passed to New owns the sampling rate used for rate
// extrapolation; TickInterval here must match the interval that table
// was constructed with, since it is this Config that drives the ticker
// calling Tick.
type Config struct {
	ListenPort   int
	BufferSize   int
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ListenPort == 0 {
		c.ListenPort = 6343
	}
	if c.BufferSize == 0 {
		c.BufferSize = 65535
	}
	if c.TickInterval == 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Collector binds a UDP socket, decodes incoming sFlow datagrams, and
// drives periodic flow-rate aggregation. Its lifecycle is
// Idle -> Running -> Stopping -> Stopped; Start is only legal from Idle,
// and Stop is idempotent.
type Collector struct {
	cfg Config

	flows    *flowtable.Table
	counters *countertable.Table
	logger   *zap.Logger

	state atomic.Int32

	conn   *net.UDPConn
	cancel context.CancelFunc
	group  *errgroup.Group

	stopOnce sync.Once
	stopErr  error

	// packetsReceived and decodeErrors are exposed for the statistics
	// reporter the way the teacher's agent exposes atomic counters.
	packetsReceived atomic.Uint64
	decodeErrors    atomic.Uint64
}

// New constructs a Collector wired to the given tables. It does not bind
// any socket until Start is called.
func New(cfg Config, flows *flowtable.Table, counters *countertable.Table, logger *zap.Logger) *Collector {
	c := &Collector{
		cfg:      cfg.withDefaults(),
		flows:    flows,
		counters: counters,
		logger:   logger,
	}
	c.state.Store(int32(StateIdle))
	return c
}

// State returns the collector's current lifecycle state.
func (c *Collector) State() State {
	return State(c.state.Load())
}

// Start binds the UDP socket and launches the receiver and aggregator
// goroutines. It is only legal to call from StateIdle; a bind failure is
// the only fatal error this collector produces, per spec.md §4.4/§7.
func (c *Collector) Start(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("collector: Start called from state %s, want idle", c.State())
	}

	addr := &net.UDPAddr{Port: c.cfg.ListenPort, IP: net.IPv4zero}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		c.state.Store(int32(StateIdle))
		return fmt.Errorf("collector: bind udp port %d: %w", c.cfg.ListenPort, err)
	}
	c.conn = conn

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	group, groupCtx := errgroup.WithContext(runCtx)
	c.group = group

	group.Go(func() error {
		c.receiveLoop(groupCtx)
		return nil
	})
	group.Go(func() error {
		c.aggregateLoop(groupCtx)
		return nil
	})

	c.logger.Info("collector started",
		zap.Int("listen_port", c.cfg.ListenPort),
		zap.Int("buffer_size", c.cfg.BufferSize),
		zap.Duration("tick_interval", c.cfg.TickInterval),
	)
	return nil
}

// Stop requests shutdown, unblocks the receiver by closing its socket,
// and waits for both goroutines to exit. It is idempotent: the second
// and later calls return the result of the first.
func (c *Collector) Stop() error {
	c.stopOnce.Do(func() {
		c.state.Store(int32(StateStopping))

		var errs error
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			if err := c.conn.Close(); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("collector: close socket: %w", err))
			}
		}
		if c.group != nil {
			if err := c.group.Wait(); err != nil {
				errs = multierr.Append(errs, err)
			}
		}

		c.state.Store(int32(StateStopped))
		c.stopErr = errs
		c.logger.Info("collector stopped")
	})
	return c.stopErr
}

// Stats returns counters useful for periodic reporting.
func (c *Collector) Stats() (packetsReceived, decodeErrors uint64) {
	return c.packetsReceived.Load(), c.decodeErrors.Load()
}

func (c *Collector) receiveLoop(ctx context.Context) {
	buf := make([]byte, c.cfg.BufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, _, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("sflow receive error", zap.Error(err))
			continue
		}
		c.packetsReceived.Add(1)
		c.handleDatagram(buf[:n])
	}
}

func (c *Collector) handleDatagram(datagram []byte) {
	agentIP, samples, err := sflow.Decode(datagram)
	if err != nil {
		c.decodeErrors.Add(1)
		c.logger.Debug("sflow decode issue", zap.Error(err), zap.String("agent", agentIP))
		if len(samples) == 0 {
			return
		}
	}

	for _, sample := range samples {
		switch {
		case sample.Flow != nil:
			c.dispatchFlowSample(agentIP, sample.Flow)
		case sample.Counter != nil:
			c.dispatchCounterSample(agentIP, sample.Counter)
		}
	}
}

func (c *Collector) dispatchFlowSample(agentIP string, fs *sflow.FlowSample) {
	if fs.Protocol != protocolTCP {
		return
	}
	key := flowtable.FlowKey{
		SrcIP:   fs.SrcIP,
		DstIP:   fs.DstIP,
		SrcPort: fs.SrcPort,
		DstPort: fs.DstPort,
	}
	point := flowtable.ObservationPoint{AgentIP: agentIP, InputPort: fs.InputPort}
	c.flows.RecordTCP(key, point, uint64(fs.FrameLength))
}

func (c *Collector) dispatchCounterSample(agentIP string, cs *sflow.CounterSample) {
	point := flowtable.ObservationPoint{AgentIP: agentIP, InputPort: cs.InterfaceIndex}
	inBps, outBps, ok := c.counters.Update(point, time.Now(), cs.InputOctets, cs.OutputOctets)
	if ok {
		c.logger.Debug("interface counter delta",
			zap.String("agent", agentIP), zap.Uint32("interface", cs.InterfaceIndex),
			zap.Uint64("input_bps", inBps), zap.Uint64("output_bps", outBps),
		)
	}
}

func (c *Collector) aggregateLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flows.Tick()
		}
	}
}
