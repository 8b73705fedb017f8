// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package conntrack holds the bounded connection table, the per-protocol
// flow states and the expiration sweeper that ages entries out of it.
package conntrack

import (
	"fmt"
	"net"
)

// Key identifies a flow by its 5-tuple. The layout is fixed and padded to
// 16 bytes so it can be shared with kernel-side maps.
type Key struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Proto   uint8
	_       [3]uint8
}

// NewKey builds the forward key for a packet.
func NewKey(srcIP uint32, srcPort uint16, dstIP uint32, dstPort uint16, proto uint8) Key {
	return Key{
		SrcIP:   srcIP,
		DstIP:   dstIP,
		SrcPort: srcPort,
		DstPort: dstPort,
		Proto:   proto,
	}
}

// Mirror returns the key of the reverse direction.
func (k Key) Mirror() Key {
	return Key{
		SrcIP:   k.DstIP,
		DstIP:   k.SrcIP,
		SrcPort: k.DstPort,
		DstPort: k.SrcPort,
		Proto:   k.Proto,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d/%s",
		IPString(k.SrcIP), k.SrcPort, IPString(k.DstIP), k.DstPort, protoName(k.Proto))
}

// hash mixes every field of the key into a shard selector.
func (k Key) hash() uint64 {
	h := uint64(k.SrcIP)<<32 | uint64(k.DstIP)
	h ^= uint64(k.SrcPort)<<40 | uint64(k.DstPort)<<16 | uint64(k.Proto)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// IPString formats a host-order IPv4 address.
func IPString(ip uint32) string {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).String()
}

// ParseIPv4 converts a dotted-quad string to a host-order address.
func ParseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(s)
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

func protoName(p uint8) string {
	switch p {
	case ProtoTCP:
		return "tcp"
	case ProtoUDP:
		return "udp"
	default:
		return fmt.Sprintf("proto-%d", p)
	}
}
