// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package daemon wires the firewall's components together and supervises
// their goroutines.
package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"grimm.is/flowgate/internal/api"
	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/config"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/ctlplane"
	"grimm.is/flowgate/internal/dataplane"
	"grimm.is/flowgate/internal/ebpf/rulemap"
	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/metrics"
	"grimm.is/flowgate/internal/rpc"
	"grimm.is/flowgate/internal/rules"
	"grimm.is/flowgate/internal/store"
)

// Daemon owns every long-lived component.
type Daemon struct {
	cfg    *config.Config
	logger *logging.Logger
	clock  clock.Clock

	store   *store.Store
	conns   *conntrack.Table
	rules   *rules.Table
	engine  *engine.Engine
	bridge  *ctlplane.Bridge
	sweeper *conntrack.Sweeper
	ruleMap *rulemap.Map

	hooks    *metrics.Hooks
	registry *prometheus.Registry
	hook     dataplane.Hook
}

// Option customizes a Daemon.
type Option func(*Daemon)

// WithClock replaces the monotonic clock shared by the engine and sweeper.
func WithClock(clk clock.Clock) Option {
	return func(d *Daemon) { d.clock = clk }
}

// New opens the rule store and builds every component. Nothing runs until
// Run is called.
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Daemon, error) {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Daemon{cfg: cfg, logger: logger, clock: clock.NewMonotonic()}
	for _, opt := range opts {
		opt(d)
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, errors.Wrapf(err, errors.KindStorage, "create database directory %s", dir)
		}
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	d.store = st

	d.conns = conntrack.NewTable(conntrack.TableConfig{
		Capacity: cfg.Conntrack.Capacity,
		Shards:   cfg.Conntrack.Shards,
	})
	d.rules = rules.NewTable()
	d.engine = engine.New(d.conns, d.rules, d.clock)
	d.sweeper = conntrack.NewSweeper(d.conns, d.clock, sweeperConfig(cfg.Conntrack), logger.WithComponent("sweeper"))

	var sinks []ctlplane.RuleSink
	if cfg.EBPF.Enabled {
		m, err := rulemap.Open(rulemap.Config{
			PinDir:     cfg.EBPF.PinDir,
			MaxEntries: uint32(cfg.EBPF.MaxEntries),
		}, logger.WithComponent("rulemap"))
		if err != nil {
			d.Close()
			return nil, err
		}
		d.ruleMap = m
		sinks = append(sinks, m)
	}

	d.bridge = ctlplane.NewBridge(d.store, d.rules, ctlplane.Options{
		Conns:              d.conns,
		EvictFlowsOnDelete: cfg.Rules.EvictFlowsOnDelete,
		Sinks:              sinks,
		Stats:              d.engine.Stats().Snapshot,
		Clock:              d.clock,
		Logger:             logger.WithComponent("ctlplane"),
	})

	d.hooks = metrics.NewHooks()
	d.registry, err = metrics.Registry(metrics.NewCollector(metrics.Sources{
		Stats:   d.engine.Stats(),
		Conns:   d.conns,
		Rules:   d.rules,
		Sweeper: d.sweeper,
	}), d.hooks)
	if err != nil {
		d.Close()
		return nil, errors.Wrap(err, errors.KindInternal, "register metrics")
	}

	mode, err := dataplane.ParseMode(cfg.Mode)
	if err != nil {
		d.Close()
		return nil, err
	}
	dp := dataplane.DefaultConfig()
	dp.Mode = mode
	dp.Interface = cfg.Interface
	dp.QueueNum = uint16(cfg.Queue)
	dp.MaxQueueLen = uint32(cfg.QueueLen)
	dp.TableName = cfg.NFTable
	d.hook, err = dataplane.New(dp, d.engine, d.hooks, logger.WithComponent("dataplane"))
	if err != nil {
		d.Close()
		return nil, err
	}

	return d, nil
}

func sweeperConfig(ct *config.ConntrackConfig) conntrack.SweeperConfig {
	sc := conntrack.DefaultSweeperConfig()
	sc.Timeouts.TCPEstablished, sc.Timeouts.TCPTransient, sc.Timeouts.UDP = ct.Timeouts()
	sc.Interval = ct.Interval()
	sc.BatchSize = ct.SweepBatch
	sc.WarnThreshold = ct.WarnThreshold
	return sc
}

// Engine returns the decision engine.
func (d *Daemon) Engine() *engine.Engine { return d.engine }

// Bridge returns the control-plane bridge.
func (d *Daemon) Bridge() *ctlplane.Bridge { return d.bridge }

// Registry returns the metrics registry.
func (d *Daemon) Registry() *prometheus.Registry { return d.registry }

// Run bootstraps the rule table and then runs the sweeper, usage flusher,
// RPC service, HTTP API and packet hook until ctx is cancelled or one of
// them fails. The hook attaches only after every persisted rule is loaded.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.bridge.Bootstrap(ctx); err != nil {
		return err
	}
	if d.ruleMap != nil {
		n, err := d.ruleMap.Len()
		if err != nil {
			d.logger.WithError(err).Warn("Failed to count rule map entries", "path", d.ruleMap.Path())
		} else {
			d.logger.Info("Rule map synced", "path", d.ruleMap.Path(), "entries", n)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.sweeper.Run(gCtx) })
	g.Go(func() error { return d.bridge.RunUsageFlusher(gCtx, d.cfg.Rules.FlushInterval()) })

	if d.cfg.RPC.IsEnabled() {
		srv := rpc.NewServer(d.bridge, d.logger.WithComponent("rpc"))
		g.Go(func() error { return srv.Run(gCtx, d.cfg.RPC.Listen) })
	}
	if d.cfg.API.IsEnabled() {
		srv := api.NewServer(api.Options{
			Admin:    d.bridge,
			Conns:    d.conns,
			Clock:    d.clock,
			Health:   d.store.Ping,
			Gatherer: d.registry,
			Logger:   d.logger.WithComponent("api"),
		})
		g.Go(func() error { return srv.Run(gCtx, d.cfg.API.Listen) })
	}

	g.Go(func() error { return d.hook.Run(gCtx) })

	d.logger.Info("flowgate running",
		"mode", d.hook.Name(),
		"interface", d.cfg.Interface,
		"rules", d.rules.Len(),
		"flow_capacity", d.conns.Capacity())

	err := g.Wait()
	if err != nil {
		d.logger.WithError(err).Error("flowgate stopped on error")
		return err
	}
	d.logger.Info("flowgate stopped")
	return nil
}

// Close releases the store and the rule map.
func (d *Daemon) Close() error {
	var first error
	if d.ruleMap != nil {
		if err := d.ruleMap.Close(); err != nil {
			first = err
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LoggingConfig converts the log block.
func LoggingConfig(l *config.LogConfig) logging.Config {
	lc := logging.DefaultConfig()
	if l == nil {
		return lc
	}
	lc.Level = logging.ParseLevel(l.Level)
	lc.JSON = l.JSON
	if s := l.Syslog; s != nil {
		lc.Syslog.Enabled = s.Enabled
		lc.Syslog.Host = s.Host
		lc.Syslog.Port = s.Port
		lc.Syslog.Protocol = s.Protocol
		lc.Syslog.Tag = s.Tag
	}
	return lc
}
