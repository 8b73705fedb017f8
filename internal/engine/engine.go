// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package engine implements the per-packet decision: match the packet to a
// tracked flow in either direction and advance its state, or admit a new
// flow through the static rule table.
//
// Classify does constant work per packet, never blocks on anything but a
// single shard lock, and does not allocate.
package engine

import (
	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/packet"
	"grimm.is/flowgate/internal/rules"
)

// Engine classifies packets against shared connection and rule tables.
type Engine struct {
	conns *conntrack.Table
	rules *rules.Table
	clock clock.Clock
	stats Stats
}

// New creates an engine. clk must be the clock the expiration sweeper reads.
func New(conns *conntrack.Table, rt *rules.Table, clk clock.Clock) *Engine {
	return &Engine{conns: conns, rules: rt, clock: clk}
}

// Conns returns the connection table.
func (e *Engine) Conns() *conntrack.Table { return e.conns }

// Rules returns the static rule table.
func (e *Engine) Rules() *rules.Table { return e.rules }

// Stats returns the live decision counters.
func (e *Engine) Stats() *Stats { return &e.stats }

// Classify decides an Ethernet frame.
func (e *Engine) Classify(frame []byte) Decision {
	v, err := packet.Parse(frame)
	return e.Decide(v, err)
}

// ClassifyIPv4 decides a packet that starts at its IPv4 header.
func (e *Engine) ClassifyIPv4(pkt []byte) Decision {
	v, err := packet.ParseIPv4(pkt)
	return e.Decide(v, err)
}

// Decide classifies an already parsed view. err is the parse error, if any.
func (e *Engine) Decide(v packet.View, err error) Decision {
	d := e.decide(v, err)
	e.stats.record(d, v.Length)
	return d
}

func (e *Engine) decide(v packet.View, err error) Decision {
	if err != nil {
		if err == packet.ErrBounds {
			return abort(ReasonBounds)
		}
		return abort(ReasonMalformed)
	}
	if !v.IsIPv4 {
		return pass(ReasonNonIPv4)
	}
	if v.Fragment {
		return drop(ReasonFragment)
	}

	switch v.Protocol {
	case packet.ProtoTCP, packet.ProtoUDP:
	default:
		return e.untracked(v)
	}

	now := e.clock.Nanotime()
	k := conntrack.NewKey(v.SrcIP, v.SrcPort, v.DstIP, v.DstPort, v.Protocol)

	var d Decision
	if e.conns.Update(k, func(cv *conntrack.Value) conntrack.UpdateAction {
		return forward(cv, v, now, &d)
	}) {
		return d
	}
	if e.conns.Update(k.Mirror(), func(cv *conntrack.Value) conntrack.UpdateAction {
		return reply(cv, v, now, &d)
	}) {
		return d
	}

	return e.admit(k, v, now)
}

// admit consults the static rules for a packet with no tracked flow.
func (e *Engine) admit(k conntrack.Key, v packet.View, now uint64) Decision {
	action, ok := e.rules.Lookup(rules.Key{SrcIP: v.SrcIP, DstIP: v.DstIP, DstPort: v.DstPort}, v.Protocol)
	if !ok {
		return drop(ReasonNoRule)
	}
	if action != rules.ActionAllow {
		return drop(ReasonDenied)
	}

	var state conntrack.State
	switch v.Protocol {
	case packet.ProtoTCP:
		if !v.Flags.Has(packet.FlagSYN) || v.Flags.Has(packet.FlagACK) {
			return drop(ReasonNotInitiating)
		}
		state = conntrack.TCP(conntrack.TCPSynSent)
	default:
		state = conntrack.UDP(conntrack.UDPNew)
	}

	err := e.conns.Insert(k, conntrack.Value{State: state, Created: now, LastSeen: now, Packets: 1})
	switch err {
	case nil:
		return pass(ReasonAdmitted)
	case conntrack.ErrExists:
		// Another core admitted the same flow first.
		var d Decision
		if e.conns.Update(k, func(cv *conntrack.Value) conntrack.UpdateAction {
			return forward(cv, v, now, &d)
		}) {
			return d
		}
		return pass(ReasonAdmitted)
	default:
		return drop(ReasonCapacity)
	}
}

// untracked handles IPv4 protocols other than TCP and UDP. They are never
// tracked; an allow rule for the address pair passes them.
func (e *Engine) untracked(v packet.View) Decision {
	action, ok := e.rules.Lookup(rules.Key{SrcIP: v.SrcIP, DstIP: v.DstIP}, v.Protocol)
	switch {
	case !ok:
		return drop(ReasonNoRule)
	case action == rules.ActionAllow:
		return pass(ReasonUntrackedAllowed)
	default:
		return drop(ReasonDenied)
	}
}

// forward applies a packet travelling in the flow's original direction.
func forward(cv *conntrack.Value, v packet.View, now uint64, d *Decision) conntrack.UpdateAction {
	if tcp, ok := cv.State.TCP(); ok {
		f := v.Flags
		switch {
		case f.Has(packet.FlagRST):
			*d = drop(ReasonReset)
			return conntrack.UpdateDelete
		case f.Has(packet.FlagFIN) && tcp == conntrack.TCPEstablished:
			cv.State = conntrack.TCP(conntrack.TCPFinWait1)
		case tcp == conntrack.TCPSynReceived && f.Has(packet.FlagACK) && !f.Has(packet.FlagSYN):
			cv.State = conntrack.TCP(conntrack.TCPEstablished)
		}
	} else if udp, ok := cv.State.UDP(); ok && udp == conntrack.UDPNew {
		cv.State = conntrack.UDP(conntrack.UDPEstablished)
	}

	cv.Touch(now)
	*d = pass(ReasonTracked)
	return conntrack.UpdateKeep
}

// reply applies a packet travelling against the flow's original direction.
// A FIN here does not move the state; the half-close is tracked from the
// originating side only.
func reply(cv *conntrack.Value, v packet.View, now uint64, d *Decision) conntrack.UpdateAction {
	if tcp, ok := cv.State.TCP(); ok {
		f := v.Flags
		switch {
		case f.Has(packet.FlagRST):
			*d = drop(ReasonReset)
			return conntrack.UpdateDelete
		case tcp == conntrack.TCPSynSent && f.Has(packet.FlagSYN|packet.FlagACK):
			cv.State = conntrack.TCP(conntrack.TCPSynReceived)
		}
	} else if udp, ok := cv.State.UDP(); ok && udp == conntrack.UDPNew {
		cv.State = conntrack.UDP(conntrack.UDPEstablished)
	}

	cv.Touch(now)
	*d = pass(ReasonReply)
	return conntrack.UpdateKeep
}
