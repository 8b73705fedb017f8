// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packet provides bounds-checked, zero-copy views over raw frames.
//
// Every header accessor goes through Cursor, which refuses any read that
// would extend past the end of the buffer. Header views are sub-slices of
// the original buffer and are only valid for as long as the caller owns it.
package packet

import (
	"encoding/binary"

	"grimm.is/flowgate/internal/errors"
)

// Header sizes in bytes.
const (
	EthernetHeaderLen = 14
	IPv4MinHeaderLen  = 20
	TCPHeaderLen      = 20
	UDPHeaderLen      = 8
)

// EtherTypeIPv4 is the Ethernet type for IPv4 payloads.
const EtherTypeIPv4 uint16 = 0x0800

// IP protocol numbers.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

var (
	// ErrBounds is returned when a header would extend past the buffer end.
	ErrBounds = errors.NewSentinel(errors.KindBounds, "packet: header exceeds buffer")
	// ErrMalformed is returned for headers that are in bounds but invalid.
	ErrMalformed = errors.NewSentinel(errors.KindValidation, "packet: malformed header")
)

// Cursor is a read-only window over a packet buffer of fixed length.
type Cursor struct {
	buf []byte
}

// NewCursor wraps buf. The cursor never writes to it.
func NewCursor(buf []byte) Cursor {
	return Cursor{buf: buf}
}

// Len returns the buffer length.
func (c Cursor) Len() int {
	return len(c.buf)
}

// Bytes returns the n bytes at off, or ErrBounds unless off+n <= Len().
func (c Cursor) Bytes(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > len(c.buf) || n > len(c.buf)-off {
		return nil, ErrBounds
	}
	return c.buf[off : off+n : off+n], nil
}

// Ethernet returns the Ethernet header at off.
func (c Cursor) Ethernet(off int) (EthernetHeader, error) {
	b, err := c.Bytes(off, EthernetHeaderLen)
	if err != nil {
		return EthernetHeader{}, err
	}
	return EthernetHeader{b: b}, nil
}

// IPv4 returns the fixed part of the IPv4 header at off.
func (c Cursor) IPv4(off int) (IPv4Header, error) {
	b, err := c.Bytes(off, IPv4MinHeaderLen)
	if err != nil {
		return IPv4Header{}, err
	}
	return IPv4Header{b: b}, nil
}

// TCP returns the fixed part of the TCP header at off.
func (c Cursor) TCP(off int) (TCPHeader, error) {
	b, err := c.Bytes(off, TCPHeaderLen)
	if err != nil {
		return TCPHeader{}, err
	}
	return TCPHeader{b: b}, nil
}

// UDP returns the UDP header at off.
func (c Cursor) UDP(off int) (UDPHeader, error) {
	b, err := c.Bytes(off, UDPHeaderLen)
	if err != nil {
		return UDPHeader{}, err
	}
	return UDPHeader{b: b}, nil
}

// EthernetHeader is a validated 14-byte Ethernet II header.
type EthernetHeader struct{ b []byte }

func (h EthernetHeader) Dst() (mac [6]byte) { copy(mac[:], h.b[0:6]); return }
func (h EthernetHeader) Src() (mac [6]byte) { copy(mac[:], h.b[6:12]); return }
func (h EthernetHeader) EtherType() uint16  { return binary.BigEndian.Uint16(h.b[12:14]) }

// IPv4Header is a validated view of the first 20 bytes of an IPv4 header.
type IPv4Header struct{ b []byte }

func (h IPv4Header) Version() uint8 { return h.b[0] >> 4 }

// IHL is the header length in 32-bit words.
func (h IPv4Header) IHL() uint8 { return h.b[0] & 0x0f }

// HeaderLen is the header length in bytes, options included.
func (h IPv4Header) HeaderLen() int   { return int(h.IHL()) * 4 }
func (h IPv4Header) TotalLen() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h IPv4Header) Protocol() uint8  { return h.b[9] }
func (h IPv4Header) Src() uint32      { return binary.BigEndian.Uint32(h.b[12:16]) }
func (h IPv4Header) Dst() uint32      { return binary.BigEndian.Uint32(h.b[16:20]) }

// FragmentOffset is the fragment offset in 8-byte units.
func (h IPv4Header) FragmentOffset() uint16 {
	return binary.BigEndian.Uint16(h.b[6:8]) & 0x1fff
}

func (h IPv4Header) MoreFragments() bool { return h.b[6]&0x20 != 0 }

// TCPHeader is a validated view of the first 20 bytes of a TCP header.
type TCPHeader struct{ b []byte }

func (h TCPHeader) SrcPort() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h TCPHeader) DstPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h TCPHeader) Seq() uint32     { return binary.BigEndian.Uint32(h.b[4:8]) }
func (h TCPHeader) Flags() TCPFlags { return TCPFlags(h.b[13]) }

// UDPHeader is a validated 8-byte UDP header.
type UDPHeader struct{ b []byte }

func (h UDPHeader) SrcPort() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h UDPHeader) DstPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h UDPHeader) Length() uint16  { return binary.BigEndian.Uint16(h.b[4:6]) }
