// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import (
	"math/bits"
	"sync"
	"sync/atomic"

	"grimm.is/flowgate/internal/errors"
)

var (
	// ErrCapacity is returned by Insert when the table is full. Callers on
	// the packet path treat it as "flow not tracked".
	ErrCapacity = errors.NewSentinel(errors.KindCapacity, "conntrack: table full")
	// ErrExists is returned by Insert when the key is already tracked.
	ErrExists = errors.NewSentinel(errors.KindConflict, "conntrack: flow already tracked")
)

// DefaultCapacity is the number of flows tracked when no capacity is configured.
const DefaultCapacity = 10000

// UpdateAction tells Update what to do with the entry after the callback.
type UpdateAction uint8

const (
	// UpdateKeep stores the (possibly modified) value.
	UpdateKeep UpdateAction = iota
	// UpdateDelete removes the entry.
	UpdateDelete
)

// TableConfig sizes a Table.
type TableConfig struct {
	// Capacity bounds the total number of entries.
	Capacity int
	// Shards is rounded up to a power of two. Zero picks a default.
	Shards int
}

// shard stores entries densely so a scan can stop at an index, release the
// lock and resume. idx maps a key to its slot in ents.
type shard struct {
	mu   sync.Mutex
	idx  map[Key]int
	ents []Entry
	_    [24]byte // pad to a cache line
}

func (s *shard) get(k Key) (Value, bool) {
	i, ok := s.idx[k]
	if !ok {
		return Value{}, false
	}
	return s.ents[i].Value, true
}

func (s *shard) add(k Key, v Value) {
	s.idx[k] = len(s.ents)
	s.ents = append(s.ents, Entry{Key: k, Value: v})
}

// removeAt deletes slot i by moving the last entry into it.
func (s *shard) removeAt(i int) {
	last := len(s.ents) - 1
	delete(s.idx, s.ents[i].Key)
	if i != last {
		s.ents[i] = s.ents[last]
		s.idx[s.ents[i].Key] = i
	}
	s.ents[last] = Entry{}
	s.ents = s.ents[:last]
}

// Table is a bounded, sharded flow table. Every operation locks at most one
// shard, so packet-path operations on different flows do not contend.
type Table struct {
	shards   []shard
	mask     uint64
	capacity int64
	count    atomic.Int64
}

// NewTable creates a table. Shard maps are allocated up front so inserts
// below capacity do not grow them.
func NewTable(cfg TableConfig) *Table {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Shards <= 0 {
		cfg.Shards = 64
	}
	if cfg.Shards > cfg.Capacity {
		cfg.Shards = cfg.Capacity
	}
	n := 1 << bits.Len(uint(cfg.Shards-1))

	t := &Table{
		shards:   make([]shard, n),
		mask:     uint64(n - 1),
		capacity: int64(cfg.Capacity),
	}
	per := cfg.Capacity/n + 1
	for i := range t.shards {
		t.shards[i].idx = make(map[Key]int, per)
		t.shards[i].ents = make([]Entry, 0, per)
	}
	return t
}

func (t *Table) shardFor(k Key) *shard {
	return &t.shards[k.hash()&t.mask]
}

// Get returns a copy of the entry for k.
func (t *Table) Get(k Key) (Value, bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	v, ok := s.get(k)
	s.mu.Unlock()
	return v, ok
}

// Insert adds a new entry. It fails with ErrCapacity when the table is full
// and with ErrExists when k is already present.
func (t *Table) Insert(k Key, v Value) error {
	if t.count.Add(1) > t.capacity {
		t.count.Add(-1)
		return ErrCapacity
	}

	s := t.shardFor(k)
	s.mu.Lock()
	if _, ok := s.idx[k]; ok {
		s.mu.Unlock()
		t.count.Add(-1)
		return ErrExists
	}
	s.add(k, v)
	s.mu.Unlock()
	return nil
}

// Remove deletes k and returns the removed entry.
func (t *Table) Remove(k Key) (Value, bool) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.idx[k]
	if !ok {
		return Value{}, false
	}
	v := s.ents[i].Value
	s.removeAt(i)
	t.count.Add(-1)
	return v, true
}

// Update runs fn on the entry for k with the shard locked, making the
// read-modify-write atomic with respect to every other table operation.
// It returns false without calling fn when k is absent. fn must not call
// back into the table.
func (t *Table) Update(k Key, fn func(v *Value) UpdateAction) bool {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.idx[k]
	if !ok {
		return false
	}
	if fn(&s.ents[i].Value) == UpdateDelete {
		s.removeAt(i)
		t.count.Add(-1)
	}
	return true
}

// Len returns the number of tracked flows.
func (t *Table) Len() int {
	return int(t.count.Load())
}

// Capacity returns the configured bound.
func (t *Table) Capacity() int {
	return int(t.capacity)
}

// Range calls fn for every entry, one shard at a time, until fn returns
// false. fn runs with the shard locked and must not call back into the table.
func (t *Table) Range(fn func(Key, Value) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, e := range s.ents {
			if !fn(e.Key, e.Value) {
				s.mu.Unlock()
				return
			}
		}
		s.mu.Unlock()
	}
}

// DeleteFunc removes every entry for which pred returns true and returns
// the number removed.
func (t *Table) DeleteFunc(pred func(Key, Value) bool) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for j := 0; j < len(s.ents); {
			if pred(s.ents[j].Key, s.ents[j].Value) {
				s.removeAt(j)
				t.count.Add(-1)
				removed++
				continue
			}
			j++
		}
		s.mu.Unlock()
	}
	return removed
}

// Entry is a copied table entry.
type Entry struct {
	Key   Key
	Value Value
}

// Snapshot copies up to limit entries (all when limit <= 0).
func (t *Table) Snapshot(limit int) []Entry {
	n := t.Len()
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, 0, n)
	t.Range(func(k Key, v Value) bool {
		out = append(out, Entry{Key: k, Value: v})
		return limit <= 0 || len(out) < limit
	})
	return out
}
