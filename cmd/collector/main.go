// Command collector runs the passive sFlow telemetry collector: it
// listens for sFlow v5 datagrams, maintains per-flow rate estimates and
// per-interface counter deltas, and polls an SDN controller to keep a
// topology graph in sync.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/netweaver/sflowcollector/internal/collector"
	"github.com/netweaver/sflowcollector/internal/config"
	"github.com/netweaver/sflowcollector/internal/countertable"
	"github.com/netweaver/sflowcollector/internal/flowtable"
	"github.com/netweaver/sflowcollector/internal/topology"
)

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

func run(configPath string) error {
	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	flows := flowtable.New(flowtable.Config{
		SamplingRate: uint64(cfg.Flow.SamplingRate),
		TickInterval: cfg.TickInterval(),
	}, logger.Named("flowtable"))

	counters := countertable.New(logger.Named("countertable"))

	coll := collector.New(collector.Config{
		ListenPort:   cfg.SFlow.ListenPort,
		BufferSize:   cfg.SFlow.BufferSize,
		TickInterval: cfg.TickInterval(),
	}, flows, counters, logger.Named("collector"))

	topo := topology.New(topology.Config{
		URLs: topology.ControllerURLs{
			Switches: cfg.Topology.ControllerURLs.Switches,
			Hosts:    cfg.Topology.ControllerURLs.Hosts,
			Links:    cfg.Topology.ControllerURLs.Links,
		},
		PollInterval: cfg.PollInterval(),
		HTTPTimeout:  cfg.HTTPTimeout(),
	}, logger.Named("topology"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := coll.Start(ctx); err != nil {
		return fmt.Errorf("start collector: %w", err)
	}

	topoErr := make(chan error, 1)
	go func() { topoErr <- topo.Run(ctx) }()

	statsDone := make(chan struct{})
	go statsReporter(ctx, coll, logger.Named("stats"), statsDone)

	logger.Info("collector running",
		zap.Int("listen_port", cfg.SFlow.ListenPort),
		zap.Duration("tick_interval", cfg.TickInterval()),
		zap.Duration("topology_poll_interval", cfg.PollInterval()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()
	<-statsDone
	<-topoErr

	if err := coll.Stop(); err != nil {
		return fmt.Errorf("stop collector: %w", err)
	}
	return nil
}

// statsReporter periodically logs receive/decode counters, mirroring the
// teacher's own statsReporter shape.
func statsReporter(ctx context.Context, coll *collector.Collector, logger *zap.Logger, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			packets, decodeErrors := coll.Stats()
			logger.Info("collector statistics",
				zap.Uint64("packets_received", packets),
				zap.Uint64("decode_errors", decodeErrors),
			)
		}
	}
}

func main() {
	configPath := flag.String("config", "configs/collector.yaml", "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "collector: %v\n", err)
		os.Exit(1)
	}
}
