// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package dataplane

import (
	"context"
	"fmt"
	"time"

	nfqueue "github.com/florianl/go-nfqueue/v2"
	"github.com/google/nftables"
	"github.com/google/nftables/expr"

	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/metrics"
)

// nftConn is the subset of *nftables.Conn used to install the queue rule.
type nftConn interface {
	AddTable(t *nftables.Table) *nftables.Table
	FlushTable(t *nftables.Table)
	DelTable(t *nftables.Table)
	AddChain(c *nftables.Chain) *nftables.Chain
	AddRule(r *nftables.Rule) *nftables.Rule
	Flush() error
}

type inlineHook struct {
	cfg    Config
	cls    Classifier
	hooks  *metrics.Hooks
	logger *logging.Logger
	dial   func() (nftConn, error)
}

func newInlineHook(cfg Config, cls Classifier, hooks *metrics.Hooks, logger *logging.Logger) *inlineHook {
	return &inlineHook{
		cfg:    cfg,
		cls:    cls,
		hooks:  hooks,
		logger: logger.WithComponent("nfqueue"),
		dial: func() (nftConn, error) {
			return nftables.New()
		},
	}
}

func (h *inlineHook) Name() string { return string(ModeInline) }

// Run installs the queue rule, binds the queue and hands every queued
// packet to the engine until ctx is cancelled. The rule is removed on exit.
// Packets queued while no reader is bound are dropped by the kernel.
func (h *inlineHook) Run(ctx context.Context) error {
	link, err := ResolveInterface(h.cfg.Interface)
	if err != nil {
		return hookError(ModeInline, h.cfg.Interface, err)
	}
	if !link.Up {
		h.logger.Warn("Interface is down, attaching anyway", "interface", link.Name)
	}

	nf, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      h.cfg.QueueNum,
		MaxPacketLen: 0xffff,
		MaxQueueLen:  h.cfg.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		WriteTimeout: 15 * time.Millisecond,
	})
	if err != nil {
		return hookError(ModeInline, link.Name, fmt.Errorf("open queue %d: %w", h.cfg.QueueNum, err))
	}
	defer nf.Close()

	accepted := h.hooks.Verdicts.WithLabelValues(string(ModeInline), nfActionName(NFAccept))
	dropped := h.hooks.Verdicts.WithLabelValues(string(ModeInline), nfActionName(NFDrop))
	verdictErrors := h.hooks.Errors.WithLabelValues(string(ModeInline), "verdict")
	readErrors := h.hooks.Errors.WithLabelValues(string(ModeInline), "read")

	handle := func(a nfqueue.Attribute) int {
		if a.PacketID == nil {
			return 0
		}
		var payload []byte
		if a.Payload != nil {
			payload = *a.Payload
		}
		verdict := NFVerdict(h.cls.ClassifyIPv4(payload).Verdict)
		if err := nf.SetVerdict(*a.PacketID, verdict); err != nil {
			verdictErrors.Inc()
			return 0
		}
		if verdict == NFAccept {
			accepted.Inc()
		} else {
			dropped.Inc()
		}
		return 0
	}
	onError := func(e error) int {
		if ctx.Err() != nil {
			return 1
		}
		readErrors.Inc()
		h.logger.Warn("nfqueue read error", "error", e)
		return 0
	}

	if err := nf.RegisterWithErrorFunc(ctx, handle, onError); err != nil {
		return hookError(ModeInline, link.Name, fmt.Errorf("register queue handler: %w", err))
	}

	conn, err := h.dial()
	if err != nil {
		return hookError(ModeInline, link.Name, fmt.Errorf("nftables: %w", err))
	}
	if err := installQueueRule(conn, h.cfg.TableName, link.Name, h.cfg.QueueNum); err != nil {
		return hookError(ModeInline, link.Name, err)
	}
	defer func() {
		if err := removeQueueRule(conn, h.cfg.TableName); err != nil {
			h.logger.Warn("Failed to remove queue rule", "table", h.cfg.TableName, "error", err)
		}
	}()

	attached := h.hooks.Attached.WithLabelValues(string(ModeInline), link.Name)
	attached.Set(1)
	defer attached.Set(0)

	h.logger.Info("Inline hook attached",
		"interface", link.Name,
		"ifindex", link.Index,
		"queue", h.cfg.QueueNum,
		"table", h.cfg.TableName)

	<-ctx.Done()
	h.logger.Info("Inline hook detached", "interface", link.Name)
	return nil
}

func queueTable(name string) *nftables.Table {
	return &nftables.Table{Family: nftables.TableFamilyIPv4, Name: name}
}

// installQueueRule (re)creates the table with a prerouting chain that
// sends every IPv4 packet arriving on iface to the queue.
func installQueueRule(conn nftConn, tableName, iface string, queue uint16) error {
	table := conn.AddTable(queueTable(tableName))
	conn.FlushTable(table)

	chain := conn.AddChain(&nftables.Chain{
		Name:     "prerouting",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityFilter,
	})

	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Meta{Key: expr.MetaKeyIIFNAME, Register: 1},
			&expr.Cmp{Op: expr.CmpOpEq, Register: 1, Data: ifname(iface)},
			&expr.Queue{Num: queue},
		},
	})

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("install queue rule in table %s: %w", tableName, err)
	}
	return nil
}

func removeQueueRule(conn nftConn, tableName string) error {
	conn.DelTable(queueTable(tableName))
	return conn.Flush()
}

// ifname pads an interface name to IFNAMSIZ as nftables compares it.
func ifname(n string) []byte {
	b := make([]byte, 16)
	copy(b, n+"\x00")
	return b
}
