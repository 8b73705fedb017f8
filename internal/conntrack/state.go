// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package conntrack

import "fmt"

// Protocol discriminants of State.
const (
	ProtoTCP uint8 = 6
	ProtoUDP uint8 = 17
)

// TCPState is the tracked subset of the TCP state machine.
type TCPState uint8

const (
	TCPSynSent     TCPState = 1
	TCPSynReceived TCPState = 2
	TCPEstablished TCPState = 3
	TCPFinWait1    TCPState = 4
)

func (s TCPState) String() string {
	switch s {
	case TCPSynSent:
		return "syn_sent"
	case TCPSynReceived:
		return "syn_received"
	case TCPEstablished:
		return "established"
	case TCPFinWait1:
		return "fin_wait_1"
	default:
		return fmt.Sprintf("tcp-%d", uint8(s))
	}
}

// UDPState is the pseudo-state of a UDP flow.
type UDPState uint8

const (
	UDPNew         UDPState = 1
	UDPEstablished UDPState = 2
)

func (s UDPState) String() string {
	switch s {
	case UDPNew:
		return "new"
	case UDPEstablished:
		return "established"
	default:
		return fmt.Sprintf("udp-%d", uint8(s))
	}
}

// State is a two-byte tagged union: Proto selects how Sub is read.
// The zero value is invalid.
type State struct {
	Proto uint8
	Sub   uint8
}

// TCP wraps a TCP substate.
func TCP(s TCPState) State { return State{Proto: ProtoTCP, Sub: uint8(s)} }

// UDP wraps a UDP substate.
func UDP(s UDPState) State { return State{Proto: ProtoUDP, Sub: uint8(s)} }

// TCP returns the TCP substate, if this is a TCP state.
func (s State) TCP() (TCPState, bool) {
	if s.Proto != ProtoTCP {
		return 0, false
	}
	return TCPState(s.Sub), true
}

// UDP returns the UDP substate, if this is a UDP state.
func (s State) UDP() (UDPState, bool) {
	if s.Proto != ProtoUDP {
		return 0, false
	}
	return UDPState(s.Sub), true
}

// Valid reports whether the discriminant and substate are known.
func (s State) Valid() bool {
	switch s.Proto {
	case ProtoTCP:
		return s.Sub >= uint8(TCPSynSent) && s.Sub <= uint8(TCPFinWait1)
	case ProtoUDP:
		return s.Sub == uint8(UDPNew) || s.Sub == uint8(UDPEstablished)
	}
	return false
}

func (s State) String() string {
	if tcp, ok := s.TCP(); ok {
		return "tcp/" + tcp.String()
	}
	if udp, ok := s.UDP(); ok {
		return "udp/" + udp.String()
	}
	return fmt.Sprintf("invalid(%d,%d)", s.Proto, s.Sub)
}

// Value is the tracked record of one flow. Timestamps are clock.Nanotime
// readings.
type Value struct {
	State    State
	Created  uint64
	LastSeen uint64
	Packets  uint64
}

// Touch records one more packet at now.
func (v *Value) Touch(now uint64) {
	v.LastSeen = now
	v.Packets++
}
