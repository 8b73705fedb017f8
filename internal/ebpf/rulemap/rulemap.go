// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rulemap mirrors the static rule table into a pinned BPF hash map so
// an XDP program can share the control plane's rules.
package rulemap

import (
	"encoding/binary"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/cilium/ebpf"

	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/rules"
)

const (
	// MapName is the BPF object name and pin file name.
	MapName = "flowgate_rules"
	// DefaultPinDir is the bpffs directory the map is pinned under.
	DefaultPinDir = "/sys/fs/bpf/flowgate"
	// DefaultMaxEntries bounds the map.
	DefaultMaxEntries = 10000

	keySize   = 12
	valueSize = 4
)

// Key is the map key. Addresses and port are in network byte order, as the
// kernel program reads them from the packet.
type Key struct {
	SrcIP uint32
	DstIP uint32
	Port  uint16
	_     uint16
}

// KeyFor converts a rule key.
func KeyFor(k rules.Key) Key {
	return Key{SrcIP: netOrder32(k.SrcIP), DstIP: netOrder32(k.DstIP), Port: netOrder16(k.DstPort)}
}

func netOrder32(v uint32) uint32 {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return binary.NativeEndian.Uint32(b[:])
}

func netOrder16(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.NativeEndian.Uint16(b[:])
}

// Config locates the pinned map.
type Config struct {
	PinDir     string
	MaxEntries uint32
}

// Spec returns the map definition.
func (c Config) Spec() *ebpf.MapSpec {
	entries := c.MaxEntries
	if entries == 0 {
		entries = DefaultMaxEntries
	}
	return &ebpf.MapSpec{
		Name:       MapName,
		Type:       ebpf.Hash,
		KeySize:    keySize,
		ValueSize:  valueSize,
		MaxEntries: entries,
		Pinning:    ebpf.PinByName,
	}
}

// Map is a rule mirror backed by a BPF hash map.
type Map struct {
	m      *ebpf.Map
	path   string
	logger *logging.Logger
	mu     sync.Mutex
}

// Open creates the map or reuses a compatible pinned one. Entries left by a
// previous process are cleared; the bridge repopulates them at bootstrap.
func Open(cfg Config, logger *logging.Logger) (*Map, error) {
	if logger == nil {
		logger = logging.WithComponent("rulemap")
	}
	if cfg.PinDir == "" {
		cfg.PinDir = DefaultPinDir
	}
	if err := os.MkdirAll(cfg.PinDir, 0o700); err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "create pin directory %s", cfg.PinDir)
	}

	m, err := ebpf.NewMapWithOptions(cfg.Spec(), ebpf.MapOptions{PinPath: cfg.PinDir})
	if err != nil {
		return nil, errors.Attr(errors.Wrap(err, errors.KindUnavailable, "open rule map"), "pin_dir", cfg.PinDir)
	}

	rm := &Map{m: m, path: filepath.Join(cfg.PinDir, MapName), logger: logger}
	n, err := rm.clear()
	if err != nil {
		m.Close()
		return nil, err
	}
	if n > 0 {
		logger.Info("Cleared stale rule map entries", "count", n, "path", rm.path)
	}
	return rm, nil
}

// Name identifies the sink in logs.
func (m *Map) Name() string { return "bpf:" + MapName }

// Path is the pin location.
func (m *Map) Path() string { return m.path }

// Put writes the rule's action under its lookup key. Protocol is not part of
// the map key.
func (m *Map) Put(r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := KeyFor(r.Key())
	if err := m.m.Put(&k, uint32(r.Action)); err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "write rule map"), "rule", r.Key().String())
	}
	return nil
}

// Delete removes the rule's key. A missing key is not an error.
func (m *Map) Delete(r rules.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := KeyFor(r.Key())
	if err := m.m.Delete(&k); err != nil && !stderrors.Is(err, ebpf.ErrKeyNotExist) {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "delete from rule map"), "rule", r.Key().String())
	}
	return nil
}

// lookup reads the action stored for k.
func (m *Map) lookup(k rules.Key) (rules.Action, bool, error) {
	var v uint32
	mk := KeyFor(k)
	err := m.m.Lookup(&mk, &v)
	if stderrors.Is(err, ebpf.ErrKeyNotExist) {
		return rules.ActionDeny, false, nil
	}
	if err != nil {
		return rules.ActionDeny, false, errors.Wrap(err, errors.KindUnavailable, "read rule map")
	}
	return rules.Action(v), true, nil
}

// Len counts entries by iterating the map.
func (m *Map) Len() (int, error) {
	var (
		k Key
		v uint32
		n int
	)
	it := m.m.Iterate()
	for it.Next(&k, &v) {
		n++
	}
	if err := it.Err(); err != nil {
		return n, errors.Wrap(err, errors.KindUnavailable, "iterate rule map")
	}
	return n, nil
}

func (m *Map) clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		k    Key
		v    uint32
		keys []Key
	)
	it := m.m.Iterate()
	for it.Next(&k, &v) {
		keys = append(keys, k)
	}
	if err := it.Err(); err != nil {
		return 0, errors.Wrap(err, errors.KindUnavailable, "iterate rule map")
	}
	for i := range keys {
		if err := m.m.Delete(&keys[i]); err != nil && !stderrors.Is(err, ebpf.ErrKeyNotExist) {
			return i, errors.Wrap(err, errors.KindUnavailable, "clear rule map")
		}
	}
	return len(keys), nil
}

// Close releases the file descriptor. The pin stays so a loaded program
// keeps its rules.
func (m *Map) Close() error {
	return m.m.Close()
}

// unpin removes the pin file.
func (m *Map) unpin() error {
	return m.m.Unpin()
}
