// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dataplane

import "grimm.is/flowgate/internal/engine"

// XDP program return codes.
const (
	XDPAborted uint32 = 0
	XDPDrop    uint32 = 1
	XDPPass    uint32 = 2
)

// Netfilter verdicts.
const (
	NFDrop   = 0
	NFAccept = 1
)

// XDPAction maps a verdict to the XDP return code. ABORT and DROP stay
// distinct so the kernel's exception tracepoint sees malformed packets.
func XDPAction(v engine.Verdict) uint32 {
	switch v {
	case engine.VerdictPass:
		return XDPPass
	case engine.VerdictDrop:
		return XDPDrop
	default:
		return XDPAborted
	}
}

// NFVerdict maps a verdict to a netfilter queue verdict. Netfilter has no
// abort, so ABORT drops.
func NFVerdict(v engine.Verdict) int {
	if v == engine.VerdictPass {
		return NFAccept
	}
	return NFDrop
}

// nfActionName labels a netfilter verdict for metrics.
func nfActionName(nf int) string {
	if nf == NFAccept {
		return "accept"
	}
	return "drop"
}
