// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package rules

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowgate/internal/errors"
)

func mustRule(t *testing.T, id int64, s Spec) Rule {
	t.Helper()
	r, err := s.Validate()
	require.NoError(t, err)
	r.ID = id
	return r
}

func TestTable_ExactLookup(t *testing.T) {
	tbl := NewTable()
	r := mustRule(t, 1, Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", DestPort: "443", Action: "allow", Protocol: "tcp"})
	require.NoError(t, tbl.Insert(r))

	k := Key{SrcIP: 0x0a000005, DstIP: 0x0a000009, DstPort: 443}
	action, ok := tbl.Lookup(k, 6)
	require.True(t, ok)
	assert.Equal(t, ActionAllow, action)

	_, ok = tbl.Lookup(k, 17)
	assert.False(t, ok, "tcp rule must not cover udp")

	k.DstPort = 80
	_, ok = tbl.Lookup(k, 6)
	assert.False(t, ok)
}

func TestTable_WildcardPort(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Insert(mustRule(t, 1, Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", DestPort: "*", Action: "allow"})))
	require.NoError(t, tbl.Insert(mustRule(t, 2, Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", DestPort: "22", Action: "deny"})))

	k := Key{SrcIP: 0x0a000005, DstIP: 0x0a000009, DstPort: 8080}
	action, ok := tbl.Lookup(k, 17)
	require.True(t, ok)
	assert.Equal(t, ActionAllow, action)

	k.DstPort = 22
	action, ok = tbl.Lookup(k, 6)
	require.True(t, ok)
	assert.Equal(t, ActionDeny, action, "exact entry wins over wildcard")
}

func TestTable_ExactProtocolMissFallsBackToWildcard(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.Insert(mustRule(t, 1, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", DestPort: "53", Action: "deny", Protocol: "tcp"})))
	require.NoError(t, tbl.Insert(mustRule(t, 2, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", Action: "allow", Protocol: "udp"})))

	action, ok := tbl.Lookup(Key{SrcIP: 0x01010101, DstIP: 0x02020202, DstPort: 53}, 17)
	require.True(t, ok)
	assert.Equal(t, ActionAllow, action)
}

func TestTable_InsertConflictAndRemove(t *testing.T) {
	tbl := NewTable()
	r := mustRule(t, 1, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", DestPort: "80", Action: "allow"})
	require.NoError(t, tbl.Insert(r))

	dup := r
	dup.ID = 2
	err := tbl.Insert(dup)
	require.Error(t, err)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))
	assert.Equal(t, 1, tbl.Len())

	got, ok := tbl.Get(r.Key())
	require.True(t, ok)
	assert.Equal(t, int64(1), got.ID)

	removed, ok := tbl.RemoveID(1)
	require.True(t, ok)
	assert.Equal(t, r.Key(), removed.Key())
	assert.Equal(t, 0, tbl.Len())

	_, ok = tbl.Lookup(r.Key(), 6)
	assert.False(t, ok)
	_, ok = tbl.Remove(r.Key())
	assert.False(t, ok)
}

func TestTable_Load(t *testing.T) {
	tbl := NewTable()
	rs := []Rule{
		mustRule(t, 1, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", Action: "allow"}),
		mustRule(t, 2, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.3", Action: "deny"}),
	}
	require.NoError(t, tbl.Load(rs))
	assert.Equal(t, 2, tbl.Len())

	err := tbl.Load(append(rs, rs[0]))
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))
	assert.Equal(t, 2, tbl.Len())
}

func TestTable_HitsAndDrain(t *testing.T) {
	tbl := NewTable()
	r := mustRule(t, 7, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", DestPort: "80", Action: "allow"})
	r.UsageCount = 10
	require.NoError(t, tbl.Insert(r))

	for i := 0; i < 3; i++ {
		tbl.Lookup(r.Key(), 6)
	}
	assert.Equal(t, uint64(13), tbl.Rules()[0].UsageCount)

	hits := tbl.DrainHits()
	assert.Equal(t, map[int64]uint64{7: 3}, hits)
	assert.Empty(t, tbl.DrainHits())
	assert.Equal(t, uint64(13), tbl.Rules()[0].UsageCount)

	tbl.RestoreHits(hits)
	assert.Equal(t, uint64(13), tbl.Rules()[0].UsageCount)
	assert.Equal(t, map[int64]uint64{7: 3}, tbl.DrainHits())
}

func TestTable_HitsSurviveCopyOnWrite(t *testing.T) {
	tbl := NewTable()
	a := mustRule(t, 1, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", Action: "allow"})
	require.NoError(t, tbl.Insert(a))
	tbl.Lookup(a.Key(), 6)

	require.NoError(t, tbl.Insert(mustRule(t, 2, Spec{SourceIP: "3.3.3.3", DestIP: "2.2.2.2", Action: "allow"})))
	assert.Equal(t, map[int64]uint64{1: 1}, tbl.DrainHits())
}

func TestTable_ConcurrentReadersAndWriter(t *testing.T) {
	tbl := NewTable()
	base := mustRule(t, 1, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", DestPort: "80", Action: "allow"})
	require.NoError(t, tbl.Insert(base))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					action, ok := tbl.Lookup(base.Key(), 6)
					assert.True(t, ok)
					assert.Equal(t, ActionAllow, action)
				}
			}
		}()
	}

	for i := 0; i < 200; i++ {
		r := base
		r.ID = int64(100 + i)
		r.DestPort = uint16(1000 + i)
		require.NoError(t, tbl.Insert(r))
		tbl.Remove(r.Key())
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_LookupNoAllocs(t *testing.T) {
	tbl := NewTable()
	r := mustRule(t, 1, Spec{SourceIP: "1.1.1.1", DestIP: "2.2.2.2", Action: "allow"})
	require.NoError(t, tbl.Insert(r))
	k := Key{SrcIP: 0x01010101, DstIP: 0x02020202, DstPort: 443}

	allocs := testing.AllocsPerRun(100, func() {
		tbl.Lookup(k, 6)
		tbl.Lookup(Key{}, 6)
	})
	assert.Zero(t, allocs)
}
