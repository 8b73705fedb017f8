// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/logging"
)

// Timeouts are the idle times after which a flow is evicted, per state.
type Timeouts struct {
	TCPEstablished time.Duration
	// TCPTransient covers SynSent, SynReceived and FinWait1.
	TCPTransient time.Duration
	UDP          time.Duration
}

// DefaultTimeouts returns the stock eviction policy.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		TCPEstablished: 5 * time.Minute,
		TCPTransient:   30 * time.Second,
		UDP:            30 * time.Second,
	}
}

// For returns the idle timeout of a state. Invalid states get the shortest
// configured timeout.
func (t Timeouts) For(s State) time.Duration {
	if tcp, ok := s.TCP(); ok {
		if tcp == TCPEstablished {
			return t.TCPEstablished
		}
		return t.TCPTransient
	}
	if _, ok := s.UDP(); ok {
		return t.UDP
	}
	return min(t.TCPTransient, t.UDP)
}

// Expired reports whether v has been idle longer than its timeout at now.
// Entries stamped after now are never expired.
func (t Timeouts) Expired(v Value, now uint64) bool {
	if now <= v.LastSeen {
		return false
	}
	return now-v.LastSeen > uint64(t.For(v.State))
}

// SweeperConfig controls the expiration sweeper.
type SweeperConfig struct {
	Timeouts Timeouts
	Interval time.Duration
	// BatchSize bounds the entries examined per shard lock hold.
	BatchSize int
	// WarnThreshold is the occupancy ratio above which a warning is logged.
	WarnThreshold float64
}

// DefaultSweeperConfig returns the stock sweeper settings.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Timeouts:      DefaultTimeouts(),
		Interval:      10 * time.Second,
		BatchSize:     1000,
		WarnThreshold: 0.9,
	}
}

// Sweeper evicts idle entries from a Table. It must read the same Clock
// that stamps entries on the packet path.
type Sweeper struct {
	table  *Table
	clock  clock.Clock
	config SweeperConfig
	logger *logging.Logger

	evicted atomic.Uint64
	sweeps  atomic.Uint64
	warned  bool

	// afterBatch, when set, runs after each lock hold with the number of
	// entries examined.
	afterBatch func(examined int)
}

// NewSweeper creates a sweeper over table.
func NewSweeper(table *Table, clk clock.Clock, cfg SweeperConfig, logger *logging.Logger) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.WarnThreshold <= 0 {
		cfg.WarnThreshold = def.WarnThreshold
	}
	if cfg.Timeouts == (Timeouts{}) {
		cfg.Timeouts = def.Timeouts
	}
	if logger == nil {
		logger = logging.WithComponent("conntrack")
	}
	return &Sweeper{table: table, clock: clk, config: cfg, logger: logger}
}

// Timeouts returns the active eviction policy.
func (s *Sweeper) Timeouts() Timeouts {
	return s.config.Timeouts
}

// Sweep removes every entry that is expired at now and returns how many
// were removed. At most BatchSize entries are examined per shard lock hold
// and the sweeper yields between holds. An entry moved by a concurrent
// removal between holds may be left for the next sweep.
func (s *Sweeper) Sweep(now uint64) int {
	removed := 0
	batch := s.config.BatchSize

	for i := range s.table.shards {
		sh := &s.table.shards[i]

		for pos := 0; ; {
			examined := 0
			sh.mu.Lock()
			for examined < batch && pos < len(sh.ents) {
				examined++
				if s.config.Timeouts.Expired(sh.ents[pos].Value, now) {
					// The last entry moves into pos and is examined next.
					sh.removeAt(pos)
					s.table.count.Add(-1)
					removed++
					continue
				}
				pos++
			}
			done := pos >= len(sh.ents)
			sh.mu.Unlock()

			if s.afterBatch != nil {
				s.afterBatch(examined)
			}
			if done {
				break
			}
			runtime.Gosched()
		}
	}

	s.sweeps.Add(1)
	s.evicted.Add(uint64(removed))
	return removed
}

// Run sweeps every Interval until ctx is cancelled. A sweep in progress
// always completes.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("Expiration sweeper started",
		"interval", s.config.Interval,
		"tcp_established", s.config.Timeouts.TCPEstablished,
		"tcp_transient", s.config.Timeouts.TCPTransient,
		"udp", s.config.Timeouts.UDP,
		"capacity", s.table.Capacity())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Expiration sweeper stopped", "evicted_total", s.evicted.Load())
			return nil
		case <-ticker.C:
			if n := s.Sweep(s.clock.Nanotime()); n > 0 {
				s.logger.Debug("Evicted expired flows", "count", n, "remaining", s.table.Len())
			}
			s.checkUsage()
		}
	}
}

// checkUsage logs once when occupancy crosses the threshold and once when
// it falls back below it.
func (s *Sweeper) checkUsage() {
	capacity := s.table.Capacity()
	if capacity == 0 {
		return
	}
	count := s.table.Len()
	usage := float64(count) / float64(capacity)

	switch {
	case usage >= s.config.WarnThreshold && !s.warned:
		s.warned = true
		s.logger.Warn("Connection table nearly full, new flows will be dropped at capacity",
			"count", count,
			"capacity", capacity,
			"usage_percent", int(usage*100))
	case usage < s.config.WarnThreshold && s.warned:
		s.warned = false
		s.logger.Info("Connection table usage back to normal",
			"count", count,
			"capacity", capacity)
	}
}

// SweeperStats are cumulative sweeper counters.
type SweeperStats struct {
	Sweeps  uint64
	Evicted uint64
}

// Stats returns the cumulative counters.
func (s *Sweeper) Stats() SweeperStats {
	return SweeperStats{Sweeps: s.sweeps.Load(), Evicted: s.evicted.Load()}
}
