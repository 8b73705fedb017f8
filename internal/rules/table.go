// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import (
	"sync"
	"sync/atomic"

	"grimm.is/flowgate/internal/errors"
)

// entry is shared between snapshots so hit counts survive copy-on-write.
type entry struct {
	rule    Rule
	hits    atomic.Uint64
	flushed atomic.Uint64
}

type snapshot struct {
	m map[Key]*entry
}

// Table is the live rule table. Lookups read an immutable snapshot without
// locking; writers copy the snapshot under a mutex and publish the copy.
type Table struct {
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// NewTable returns an empty table.
func NewTable() *Table {
	t := &Table{}
	t.snap.Store(&snapshot{m: map[Key]*entry{}})
	return t
}

// Lookup finds the action for a new flow. An exact (src, dst, port) entry
// is tried first; when it is missing or does not cover proto, the port-0
// wildcard entry for the address pair is tried. Matches are counted.
func (t *Table) Lookup(k Key, proto uint8) (Action, bool) {
	m := t.snap.Load().m

	if e, ok := m[k]; ok && e.rule.Protocol.Matches(proto) {
		e.hits.Add(1)
		return e.rule.Action, true
	}
	if k.DstPort != 0 {
		k.DstPort = 0
		if e, ok := m[k]; ok && e.rule.Protocol.Matches(proto) {
			e.hits.Add(1)
			return e.rule.Action, true
		}
	}
	return ActionDeny, false
}

// Get returns the rule stored at k.
func (t *Table) Get(k Key) (Rule, bool) {
	e, ok := t.snap.Load().m[k]
	if !ok {
		return Rule{}, false
	}
	return e.rule, true
}

// Insert adds r under its key. A key may hold only one rule.
func (t *Table) Insert(r Rule) error {
	k := r.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load().m
	if existing, ok := cur[k]; ok {
		return errors.Attr(errors.Errorf(errors.KindConflict, "rule %d already covers %s", existing.rule.ID, k), "rule_id", existing.rule.ID)
	}

	next := make(map[Key]*entry, len(cur)+1)
	for key, e := range cur {
		next[key] = e
	}
	next[k] = &entry{rule: r}
	t.snap.Store(&snapshot{m: next})
	return nil
}

// Remove deletes the rule at k.
func (t *Table) Remove(k Key) (Rule, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snap.Load().m
	e, ok := cur[k]
	if !ok {
		return Rule{}, false
	}

	next := make(map[Key]*entry, len(cur))
	for key, v := range cur {
		if key != k {
			next[key] = v
		}
	}
	t.snap.Store(&snapshot{m: next})
	return e.rule, true
}

// RemoveID deletes the rule with the given id.
func (t *Table) RemoveID(id int64) (Rule, bool) {
	for _, r := range t.Rules() {
		if r.ID == id {
			return t.Remove(r.Key())
		}
	}
	return Rule{}, false
}

// Load replaces the whole table with rs in one publish. Duplicate keys are
// a conflict and leave the table unchanged.
func (t *Table) Load(rs []Rule) error {
	next := make(map[Key]*entry, len(rs))
	for _, r := range rs {
		k := r.Key()
		if existing, ok := next[k]; ok {
			return errors.Attr(errors.Errorf(errors.KindConflict, "rules %d and %d both cover %s", existing.rule.ID, r.ID, k), "rule_id", r.ID)
		}
		next[k] = &entry{rule: r}
	}

	t.mu.Lock()
	t.snap.Store(&snapshot{m: next})
	t.mu.Unlock()
	return nil
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.snap.Load().m)
}

// Rules returns the current rules with unflushed hits added to UsageCount.
func (t *Table) Rules() []Rule {
	m := t.snap.Load().m
	out := make([]Rule, 0, len(m))
	for _, e := range m {
		r := e.rule
		r.UsageCount += e.flushed.Load() + e.hits.Load()
		out = append(out, r)
	}
	return out
}

// DrainHits returns the hits counted since the previous drain, keyed by
// rule id, and resets the counters. Rules without new hits are omitted.
// Drained hits keep counting toward Rules until the entry is removed.
func (t *Table) DrainHits() map[int64]uint64 {
	m := t.snap.Load().m
	out := make(map[int64]uint64)
	for _, e := range m {
		if n := e.hits.Swap(0); n > 0 {
			e.flushed.Add(n)
			out[e.rule.ID] = n
		}
	}
	return out
}

// RestoreHits puts back hits returned by DrainHits that could not be
// persisted, so the next drain reports them again.
func (t *Table) RestoreHits(hits map[int64]uint64) {
	m := t.snap.Load().m
	for _, e := range m {
		if n, ok := hits[e.rule.ID]; ok {
			e.flushed.Add(^(n - 1))
			e.hits.Add(n)
		}
	}
}

// PendingHits returns the hits not yet drained, keyed by rule id.
func (t *Table) PendingHits() map[int64]uint64 {
	m := t.snap.Load().m
	out := make(map[int64]uint64)
	for _, e := range m {
		if n := e.hits.Load(); n > 0 {
			out[e.rule.ID] = n
		}
	}
	return out
}
