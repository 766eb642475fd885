package topology

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ControllerURLs names the three REST endpoints the snapshotter polls,
// per spec.md §6.
type ControllerURLs struct {
	Switches string
	Hosts    string
	Links    string
}

// Config controls snapshotter polling behavior.
type Config struct {
	URLs         ControllerURLs
	PollInterval time.Duration
	HTTPTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 5 * time.Second
	}
	return c
}

// Snapshotter polls the controller on a fixed cadence and publishes a
// freshly-reconciled Graph. Readers call Snapshot; the latest Graph is
// swapped in atomically, so a reader always sees either the previous or
// the new graph, never a partially-built one.
type Snapshotter struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger

	graph atomic.Pointer[Graph]
}

// New creates a Snapshotter. It starts with an empty graph published
// until the first successful poll.
func New(cfg Config, logger *zap.Logger) *Snapshotter {
	cfg = cfg.withDefaults()
	s := &Snapshotter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
	s.graph.Store(&Graph{})
	return s
}

// Snapshot returns the most recently published graph.
func (s *Snapshotter) Snapshot() *Graph {
	return s.graph.Load()
}

// Run polls the controller every PollInterval until ctx is canceled. It
// honors cancellation on every iteration — the original source's
// equivalent loop ignored its own shutdown flag (spec.md §9 note 5); this
// is the fix, not behavior carried forward.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll fetches all three controller endpoints and, on success,
// reconciles and publishes a new graph. A fetch or parse failure retains
// the prior snapshot and is logged — spec.md §7:
// ControllerUnreachable/ControllerParseError are snapshotter-local,
// non-fatal errors.
func (s *Snapshotter) poll(ctx context.Context) {
	switchesRaw, err := s.fetch(ctx, s.cfg.URLs.Switches)
	if err != nil {
		s.logger.Warn("controller unreachable", zap.String("endpoint", "switches"), zap.Error(err))
		return
	}
	hostsRaw, err := s.fetch(ctx, s.cfg.URLs.Hosts)
	if err != nil {
		s.logger.Warn("controller unreachable", zap.String("endpoint", "hosts"), zap.Error(err))
		return
	}
	linksRaw, err := s.fetch(ctx, s.cfg.URLs.Links)
	if err != nil {
		s.logger.Warn("controller unreachable", zap.String("endpoint", "links"), zap.Error(err))
		return
	}

	graph, err := s.reconcile(switchesRaw, hostsRaw, linksRaw)
	if err != nil {
		s.logger.Warn("controller parse error", zap.Error(err))
		return
	}

	s.graph.Store(graph)
}

func (s *Snapshotter) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}
	return body, nil
}

type switchDTO struct {
	DPID string `json:"dpid"`
}

type hostDTO struct {
	IPv4 []string `json:"ipv4"`
}

type linkEndpointDTO struct {
	DPID string `json:"dpid"`
}

type linkDTO struct {
	Src linkEndpointDTO `json:"src"`
	Dst linkEndpointDTO `json:"dst"`
}

// reconcile rebuilds the graph from scratch: switches first, then hosts
// (dropping missing/0.0.0.0 addresses), then links (skipping any whose
// endpoint dpid isn't a known switch, with a logged warning — spec.md
// §4.5's UnknownSwitchInLink case). Rebuilding wholesale each tick trades
// CPU for simplicity and guarantees eventual consistency with the
// controller.
func (s *Snapshotter) reconcile(switchesRaw, hostsRaw, linksRaw []byte) (*Graph, error) {
	var switches []switchDTO
	if err := json.Unmarshal(switchesRaw, &switches); err != nil {
		return nil, fmt.Errorf("parse switches: %w", err)
	}
	var hosts []hostDTO
	if err := json.Unmarshal(hostsRaw, &hosts); err != nil {
		return nil, fmt.Errorf("parse hosts: %w", err)
	}
	var links []linkDTO
	if err := json.Unmarshal(linksRaw, &links); err != nil {
		return nil, fmt.Errorf("parse links: %w", err)
	}

	graph := &Graph{}

	for _, sw := range switches {
		if sw.DPID == "" {
			continue
		}
		graph.Vertices = append(graph.Vertices, Vertex{Type: VertexSwitch, SwitchDPID: sw.DPID})
	}

	for _, h := range hosts {
		if len(h.IPv4) == 0 {
			continue
		}
		ip := h.IPv4[0]
		if ip == "" || ip == "0.0.0.0" {
			continue
		}
		graph.Vertices = append(graph.Vertices, Vertex{Type: VertexHost, HostIP: ip})
	}

	for _, link := range links {
		if link.Src.DPID == "" || link.Dst.DPID == "" {
			continue
		}
		if !graph.switchExists(link.Src.DPID) {
			s.logger.Warn("link references unknown switch", zap.String("dpid", link.Src.DPID))
			continue
		}
		if !graph.switchExists(link.Dst.DPID) {
			s.logger.Warn("link references unknown switch", zap.String("dpid", link.Dst.DPID))
			continue
		}
		graph.Edges = append(graph.Edges, Edge{SrcDPID: link.Src.DPID, DstDPID: link.Dst.DPID})
	}

	return graph, nil
}
