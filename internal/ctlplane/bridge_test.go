// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package ctlplane

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/rules"
	"grimm.is/flowgate/internal/store"
)

type recordingSink struct {
	mu      sync.Mutex
	rules   map[int64]rules.Rule
	failPut bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{rules: map[int64]rules.Rule{}}
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Put(r rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut {
		return fmt.Errorf("sink unavailable")
	}
	s.rules[r.ID] = r
	return nil
}

func (s *recordingSink) Delete(r rules.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, r.ID)
	return nil
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rules)
}

// failingStore wraps a RuleStore and fails selected operations.
type failingStore struct {
	RuleStore
	failCreate bool
	failUsage  bool
}

func (f *failingStore) Create(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	if f.failCreate {
		return r, errors.New(errors.KindStorage, "disk full")
	}
	return f.RuleStore.Create(ctx, r)
}

func (f *failingStore) AddUsage(ctx context.Context, hits map[int64]uint64) error {
	if f.failUsage {
		return errors.New(errors.KindStorage, "locked")
	}
	return f.RuleStore.AddUsage(ctx, hits)
}

type bridgeFixture struct {
	bridge *Bridge
	store  *failingStore
	table  *rules.Table
	conns  *conntrack.Table
	sink   *recordingSink
}

func newBridgeFixture(t *testing.T, evict bool) *bridgeFixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &bridgeFixture{
		store: &failingStore{RuleStore: st},
		table: rules.NewTable(),
		conns: conntrack.NewTable(conntrack.TableConfig{Capacity: 100}),
		sink:  newRecordingSink(),
	}
	f.bridge = NewBridge(f.store, f.table, Options{
		Conns:              f.conns,
		EvictFlowsOnDelete: evict,
		Sinks:              []RuleSink{f.sink},
		Clock:              clock.NewMockClock(time.Unix(1700000000, 0)),
		Logger:             logging.Discard(),
	})
	return f
}

var httpsSpec = rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", SourcePort: "*", DestPort: "443", Action: "allow", Protocol: "tcp"}

func TestBridge_RuleRoundTrip(t *testing.T) {
	f := newBridgeFixture(t, false)
	ctx := context.Background()

	r, err := f.bridge.CreateRule(ctx, httpsSpec)
	require.NoError(t, err)
	assert.NotZero(t, r.ID)

	list, err := f.bridge.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)
	assert.Equal(t, "10.0.0.5", list[0].SourceIP)

	action, ok := f.table.Lookup(r.Key(), conntrack.ProtoTCP)
	require.True(t, ok)
	assert.Equal(t, rules.ActionAllow, action)
	assert.Equal(t, 1, f.sink.len())

	require.NoError(t, f.bridge.DeleteRule(ctx, r.ID))
	_, ok = f.table.Lookup(r.Key(), conntrack.ProtoTCP)
	assert.False(t, ok)
	assert.Equal(t, 0, f.sink.len())

	list, err = f.bridge.ListRules(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBridge_CreateValidation(t *testing.T) {
	f := newBridgeFixture(t, false)
	spec := httpsSpec
	spec.Action = "maybe"

	_, err := f.bridge.CreateRule(context.Background(), spec)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.Equal(t, 0, f.table.Len())

	list, err := f.bridge.ListRules(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestBridge_CreateConflict(t *testing.T) {
	f := newBridgeFixture(t, false)
	ctx := context.Background()

	_, err := f.bridge.CreateRule(ctx, httpsSpec)
	require.NoError(t, err)

	dup := httpsSpec
	dup.Action = "deny"
	_, err = f.bridge.CreateRule(ctx, dup)
	assert.Equal(t, errors.KindConflict, errors.GetKind(err))

	list, err := f.bridge.ListRules(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestBridge_StorageFailureIsNotMirrored(t *testing.T) {
	f := newBridgeFixture(t, false)
	f.store.failCreate = true

	_, err := f.bridge.CreateRule(context.Background(), httpsSpec)
	assert.Equal(t, errors.KindStorage, errors.GetKind(err))
	assert.Equal(t, 0, f.table.Len())
	assert.Equal(t, 0, f.sink.len())
}

func TestBridge_SinkFailureKeepsRule(t *testing.T) {
	f := newBridgeFixture(t, false)
	f.sink.failPut = true

	r, err := f.bridge.CreateRule(context.Background(), httpsSpec)
	require.NoError(t, err)
	_, ok := f.table.Get(r.Key())
	assert.True(t, ok)
	assert.Equal(t, 0, f.sink.len())
}

func TestBridge_DeleteUnknown(t *testing.T) {
	f := newBridgeFixture(t, false)
	err := f.bridge.DeleteRule(context.Background(), 42)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))
}

func TestBridge_DeleteKeepsFlowsByDefault(t *testing.T) {
	f := newBridgeFixture(t, false)
	ctx := context.Background()
	r, err := f.bridge.CreateRule(ctx, httpsSpec)
	require.NoError(t, err)

	k := conntrack.NewKey(0x0a000005, 51000, 0x0a000009, 443, conntrack.ProtoTCP)
	require.NoError(t, f.conns.Insert(k, conntrack.Value{State: conntrack.TCP(conntrack.TCPEstablished)}))

	require.NoError(t, f.bridge.DeleteRule(ctx, r.ID))
	assert.Equal(t, 1, f.conns.Len())
}

func TestBridge_DeleteEvictsFlowsWhenEnabled(t *testing.T) {
	f := newBridgeFixture(t, true)
	ctx := context.Background()
	r, err := f.bridge.CreateRule(ctx, httpsSpec)
	require.NoError(t, err)

	covered := conntrack.NewKey(0x0a000005, 51000, 0x0a000009, 443, conntrack.ProtoTCP)
	otherPort := conntrack.NewKey(0x0a000005, 51000, 0x0a000009, 80, conntrack.ProtoTCP)
	otherProto := conntrack.NewKey(0x0a000005, 51000, 0x0a000009, 443, conntrack.ProtoUDP)
	for _, k := range []conntrack.Key{covered, otherPort, otherProto} {
		require.NoError(t, f.conns.Insert(k, conntrack.Value{}))
	}

	require.NoError(t, f.bridge.DeleteRule(ctx, r.ID))
	_, ok := f.conns.Get(covered)
	assert.False(t, ok)
	assert.Equal(t, 2, f.conns.Len())
}

func TestBridge_Bootstrap(t *testing.T) {
	f := newBridgeFixture(t, false)
	ctx := context.Background()

	for _, s := range []rules.Spec{
		httpsSpec,
		{SourceIP: "10.0.0.6", DestIP: "10.0.0.9", Action: "deny"},
		httpsSpec,
	} {
		r, err := s.Validate()
		require.NoError(t, err)
		_, err = f.store.Create(ctx, r)
		require.NoError(t, err)
	}

	require.NoError(t, f.bridge.Bootstrap(ctx))
	assert.Equal(t, 2, f.table.Len())
	assert.Equal(t, 2, f.sink.len())

	r, ok := f.table.Get(rules.Key{SrcIP: 0x0a000005, DstIP: 0x0a000009, DstPort: 443})
	require.True(t, ok)
	assert.Equal(t, int64(1), r.ID, "lowest id wins")
}

func TestBridge_DeletePromotesShadowedRule(t *testing.T) {
	f := newBridgeFixture(t, false)
	ctx := context.Background()

	deny := httpsSpec
	deny.Action = "deny"
	for _, s := range []rules.Spec{httpsSpec, deny} {
		r, err := s.Validate()
		require.NoError(t, err)
		_, err = f.store.Create(ctx, r)
		require.NoError(t, err)
	}
	require.NoError(t, f.bridge.Bootstrap(ctx))
	require.Equal(t, 1, f.table.Len())

	key := rules.Key{SrcIP: 0x0a000005, DstIP: 0x0a000009, DstPort: 443}
	require.NoError(t, f.bridge.DeleteRule(ctx, 1))

	r, ok := f.table.Get(key)
	require.True(t, ok, "shadowed rule takes over the key")
	assert.Equal(t, int64(2), r.ID)
	assert.Equal(t, rules.ActionDeny, r.Action)
	assert.Equal(t, 1, f.sink.len())

	action, ok := f.table.Lookup(key, conntrack.ProtoTCP)
	assert.True(t, ok)
	assert.Equal(t, rules.ActionDeny, action)

	list, err := f.bridge.ListRules(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(2), list[0].ID)

	require.NoError(t, f.bridge.DeleteRule(ctx, 2))
	assert.Equal(t, 0, f.table.Len())
	assert.Equal(t, 0, f.sink.len())
}

func TestBridge_UsageFlush(t *testing.T) {
	f := newBridgeFixture(t, false)
	ctx := context.Background()
	r, err := f.bridge.CreateRule(ctx, httpsSpec)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		f.table.Lookup(r.Key(), conntrack.ProtoTCP)
	}

	list, err := f.bridge.ListRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), list[0].UsageCount, "pending hits are reported")

	f.store.failUsage = true
	assert.Error(t, f.bridge.FlushUsage(ctx))
	f.store.failUsage = false
	require.NoError(t, f.bridge.FlushUsage(ctx))

	got, err := f.store.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), got.UsageCount)

	list, err = f.bridge.ListRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), list[0].UsageCount)
}

func TestBridge_RunUsageFlusherFlushesOnStop(t *testing.T) {
	f := newBridgeFixture(t, false)
	r, err := f.bridge.CreateRule(context.Background(), httpsSpec)
	require.NoError(t, err)
	f.table.Lookup(r.Key(), conntrack.ProtoTCP)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.bridge.RunUsageFlusher(ctx, time.Hour))

	got, err := f.store.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.UsageCount)
}

func TestBridge_Status(t *testing.T) {
	f := newBridgeFixture(t, false)
	_, err := f.bridge.CreateRule(context.Background(), httpsSpec)
	require.NoError(t, err)
	require.NoError(t, f.conns.Insert(conntrack.NewKey(1, 2, 3, 4, conntrack.ProtoUDP), conntrack.Value{}))

	st := f.bridge.Status()
	assert.Equal(t, "running", st.Status)
	assert.NotEmpty(t, st.InstanceID)
	assert.Equal(t, 1, st.Rules)
	assert.Equal(t, 1, st.Flows)
	assert.Equal(t, 100, st.FlowCapacity)
	assert.Contains(t, st.Summary(), "1 rules, 1/100 flows")
}

func TestCovers(t *testing.T) {
	wild, err := rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", Action: "allow", Protocol: "udp"}.Validate()
	require.NoError(t, err)

	assert.True(t, Covers(wild, conntrack.NewKey(0x0a000005, 1, 0x0a000009, 53, conntrack.ProtoUDP)))
	assert.False(t, Covers(wild, conntrack.NewKey(0x0a000005, 1, 0x0a000009, 53, conntrack.ProtoTCP)))
	assert.False(t, Covers(wild, conntrack.NewKey(0x0a000009, 53, 0x0a000005, 1, conntrack.ProtoUDP)))
}
