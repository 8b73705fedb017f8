// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ctlplane keeps the live rule table in step with the rule store.
// Every rule write goes through Bridge: persistence first, then the live
// table, then any kernel-side mirrors.
package ctlplane

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/rules"
)

// RuleStore persists rules. *store.Store implements it.
type RuleStore interface {
	Create(ctx context.Context, r rules.Rule) (rules.Rule, error)
	Get(ctx context.Context, id int64) (rules.Rule, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context) ([]rules.Rule, error)
	AddUsage(ctx context.Context, hits map[int64]uint64) error
}

// RuleSink receives a copy of every live rule, for example a BPF map.
type RuleSink interface {
	Name() string
	Put(r rules.Rule) error
	Delete(r rules.Rule) error
}

// Options configures a Bridge.
type Options struct {
	// Conns is required when EvictFlowsOnDelete is set.
	Conns *conntrack.Table
	// EvictFlowsOnDelete removes tracked flows covered by a deleted rule.
	EvictFlowsOnDelete bool
	Sinks              []RuleSink
	// Stats supplies decision counters for Status.
	Stats  func() engine.StatsSnapshot
	Clock  clock.Clock
	Logger *logging.Logger
}

// Bridge applies rule administration to the store and the live table.
type Bridge struct {
	store  RuleStore
	table  *rules.Table
	opts   Options
	logger *logging.Logger

	// mu serializes writers so the conflict check and the mirror agree.
	mu         sync.Mutex
	instanceID string
	startedAt  time.Time
}

// NewBridge creates a bridge over store and table.
func NewBridge(store RuleStore, table *rules.Table, opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("ctlplane")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewMonotonic()
	}
	return &Bridge{
		store:      store,
		table:      table,
		opts:       opts,
		logger:     opts.Logger,
		instanceID: uuid.NewString(),
		startedAt:  opts.Clock.Now(),
	}
}

// Bootstrap loads every persisted rule into the live table and sinks. It
// must complete before packets are classified. Persisted rules that collide
// on the same key are skipped with a warning; the lowest id wins and the
// next one takes over when it is deleted.
func (b *Bridge) Bootstrap(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, err := b.store.List(ctx)
	if err != nil {
		return errors.Wrap(err, errors.KindStorage, "bootstrap: failed to load rules")
	}

	seen := make(map[rules.Key]int64, len(stored))
	live := make([]rules.Rule, 0, len(stored))
	for _, r := range stored {
		k := r.Key()
		if owner, dup := seen[k]; dup {
			b.logger.Warn("Skipping duplicate persisted rule", "rule_id", r.ID, "kept_rule_id", owner, "key", k.String())
			continue
		}
		seen[k] = r.ID
		live = append(live, r)
	}

	if err := b.table.Load(live); err != nil {
		return err
	}
	for _, r := range live {
		b.mirror(r)
	}

	b.logger.Info("Rules loaded", "count", len(live), "sinks", len(b.opts.Sinks))
	return nil
}

// CreateRule validates spec, persists it and mirrors it into the live
// table. Validation and conflict errors leave everything untouched; a
// storage error means nothing was mirrored.
func (b *Bridge) CreateRule(ctx context.Context, spec rules.Spec) (rules.Rule, error) {
	r, err := spec.Validate()
	if err != nil {
		return r, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	k := r.Key()
	if existing, ok := b.table.Get(k); ok {
		return r, errors.Attr(errors.Errorf(errors.KindConflict, "rule %d already covers %s", existing.ID, k), "rule_id", existing.ID)
	}

	r.CreatedAt = b.opts.Clock.Now()
	r, err = b.store.Create(ctx, r)
	if err != nil {
		return r, err
	}

	if err := b.table.Insert(r); err != nil {
		b.logger.WithError(err).Warn("Rule persisted but not mirrored into live table", "rule_id", r.ID)
		return r, nil
	}
	b.mirror(r)

	b.logger.Info("Rule created",
		"rule_id", r.ID,
		"key", k.String(),
		"action", r.Action.String(),
		"protocol", r.Protocol.String())
	return r, nil
}

// DeleteRule removes a rule from the store and then from the live table.
// A persisted rule shadowed by the deleted one on the same key is promoted
// into its place. Tracked flows are left alone unless EvictFlowsOnDelete is
// set.
func (b *Bridge) DeleteRule(ctx context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.Delete(ctx, id); err != nil {
		return err
	}

	r, ok := b.table.RemoveID(id)
	if !ok {
		b.logger.Warn("Deleted rule was not in the live table", "rule_id", id)
		return nil
	}
	for _, sink := range b.opts.Sinks {
		if err := sink.Delete(r); err != nil {
			b.logger.WithError(err).Warn("Failed to remove rule from sink", "sink", sink.Name(), "rule_id", id)
		}
	}

	b.promoteShadowed(ctx, r.Key())

	evicted := 0
	if b.opts.EvictFlowsOnDelete && b.opts.Conns != nil {
		evicted = b.opts.Conns.DeleteFunc(func(k conntrack.Key, _ conntrack.Value) bool {
			return Covers(r, k)
		})
	}

	b.logger.Info("Rule deleted", "rule_id", id, "key", r.Key().String(), "evicted_flows", evicted)
	return nil
}

// ListRules returns the persisted rules with hits not yet flushed added
// to their usage counts.
func (b *Bridge) ListRules(ctx context.Context) ([]rules.Rule, error) {
	stored, err := b.store.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := b.table.PendingHits()
	for i := range stored {
		stored[i].UsageCount += pending[stored[i].ID]
	}
	sort.Slice(stored, func(i, j int) bool { return stored[i].ID < stored[j].ID })
	return stored, nil
}

// FlushUsage moves hit counts from the live table into the store. Hits
// that fail to persist are kept for the next flush.
func (b *Bridge) FlushUsage(ctx context.Context) error {
	hits := b.table.DrainHits()
	if len(hits) == 0 {
		return nil
	}
	if err := b.store.AddUsage(ctx, hits); err != nil {
		b.table.RestoreHits(hits)
		return err
	}
	return nil
}

// RunUsageFlusher flushes usage every interval until ctx is cancelled,
// then flushes once more.
func (b *Bridge) RunUsageFlusher(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := b.FlushUsage(flushCtx); err != nil {
				b.logger.WithError(err).Warn("Final usage flush failed")
			}
			return nil
		case <-ticker.C:
			if err := b.FlushUsage(ctx); err != nil {
				b.logger.WithError(err).Warn("Usage flush failed")
			}
		}
	}
}

// promoteShadowed loads the lowest-id persisted rule on k, if any, into the
// live table. Such rules exist only when duplicates were skipped at
// bootstrap.
func (b *Bridge) promoteShadowed(ctx context.Context, k rules.Key) {
	stored, err := b.store.List(ctx)
	if err != nil {
		b.logger.WithError(err).Warn("Failed to look for shadowed rules", "key", k.String())
		return
	}
	for _, r := range stored {
		if r.Key() != k {
			continue
		}
		if err := b.table.Insert(r); err != nil {
			b.logger.WithError(err).Warn("Failed to promote shadowed rule", "rule_id", r.ID)
			return
		}
		b.mirror(r)
		b.logger.Info("Promoted shadowed rule", "rule_id", r.ID, "key", k.String())
		return
	}
}

// mirror copies r into every sink. Sink failures are logged and the sink
// is left out of step with the store.
func (b *Bridge) mirror(r rules.Rule) {
	for _, sink := range b.opts.Sinks {
		if err := sink.Put(r); err != nil {
			b.logger.WithError(err).Warn("Failed to mirror rule into sink", "sink", sink.Name(), "rule_id", r.ID)
		}
	}
}

// Covers reports whether a tracked flow's forward key falls under r.
func Covers(r rules.Rule, k conntrack.Key) bool {
	rk := r.Key()
	return k.SrcIP == rk.SrcIP &&
		k.DstIP == rk.DstIP &&
		(rk.DstPort == 0 || k.DstPort == rk.DstPort) &&
		r.Protocol.Matches(k.Proto)
}
