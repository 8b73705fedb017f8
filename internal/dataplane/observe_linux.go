// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package dataplane

import (
	"context"
	"fmt"
	"net"

	"github.com/mdlayher/packet"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"grimm.is/flowgate/internal/engine"
	"grimm.is/flowgate/internal/logging"
	"grimm.is/flowgate/internal/metrics"
)

// ingressProgram rejects frames the host itself transmits. An ETH_P_ALL
// socket sees both directions; only ingress reaches the engine.
var ingressProgram = []bpf.Instruction{
	bpf.LoadExtension{Num: bpf.ExtType},
	bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 1},
	bpf.RetConstant{Val: 0x40000},
	bpf.RetConstant{Val: 0},
}

func ingressFilter() ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(ingressProgram)
	if err != nil {
		return nil, fmt.Errorf("assemble ingress filter: %w", err)
	}
	return raw, nil
}

type observeHook struct {
	cfg    Config
	cls    Classifier
	hooks  *metrics.Hooks
	logger *logging.Logger
}

func newObserveHook(cfg Config, cls Classifier, hooks *metrics.Hooks, logger *logging.Logger) *observeHook {
	return &observeHook{cfg: cfg, cls: cls, hooks: hooks, logger: logger.WithComponent("observe")}
}

func (h *observeHook) Name() string { return string(ModeObserve) }

// Run reads every frame on the interface from an AF_PACKET socket and
// classifies it. Verdicts are counted, never enforced.
func (h *observeHook) Run(ctx context.Context) error {
	link, err := ResolveInterface(h.cfg.Interface)
	if err != nil {
		return hookError(ModeObserve, h.cfg.Interface, err)
	}
	ifi, err := net.InterfaceByIndex(link.Index)
	if err != nil {
		return hookError(ModeObserve, link.Name, err)
	}

	filter, err := ingressFilter()
	if err != nil {
		return hookError(ModeObserve, link.Name, err)
	}
	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, &packet.Config{Filter: filter})
	if err != nil {
		return hookError(ModeObserve, link.Name, fmt.Errorf("af_packet listen: %w", err))
	}

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	counters := [engine.VerdictPass + 1]prometheus.Counter{
		engine.VerdictAbort: h.hooks.Verdicts.WithLabelValues(string(ModeObserve), engine.VerdictAbort.String()),
		engine.VerdictDrop:  h.hooks.Verdicts.WithLabelValues(string(ModeObserve), engine.VerdictDrop.String()),
		engine.VerdictPass:  h.hooks.Verdicts.WithLabelValues(string(ModeObserve), engine.VerdictPass.String()),
	}
	readErrors := h.hooks.Errors.WithLabelValues(string(ModeObserve), "read")

	attached := h.hooks.Attached.WithLabelValues(string(ModeObserve), link.Name)
	attached.Set(1)
	defer attached.Set(0)
	h.logger.Info("Observe tap attached, verdicts are not enforced", "interface", link.Name, "ifindex", link.Index)

	buf := make([]byte, max(link.MTU, 1500)+64)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				h.logger.Info("Observe tap detached", "interface", link.Name)
				return nil
			}
			readErrors.Inc()
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return hookError(ModeObserve, link.Name, err)
		}
		counters[h.cls.Classify(buf[:n]).Verdict].Inc()
	}
}
