// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package packet

// View is the decoded summary of one frame. It is a plain value and holds
// no reference to the buffer.
type View struct {
	EtherType uint16
	// IsIPv4 is false for frames that were not decoded past layer 2.
	IsIPv4 bool
	// Fragment is set for non-initial IPv4 fragments, which carry no
	// transport header. Ports and flags are zero.
	Fragment bool
	Protocol uint8
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Flags    TCPFlags
	// Length is the size of the buffer that was parsed.
	Length int
}

// Parse decodes an Ethernet frame. Frames whose EtherType is not IPv4 are
// returned with IsIPv4 unset and are not inspected further.
func Parse(frame []byte) (View, error) {
	c := NewCursor(frame)
	v := View{Length: len(frame)}

	eth, err := c.Ethernet(0)
	if err != nil {
		return v, err
	}
	v.EtherType = eth.EtherType()
	if v.EtherType != EtherTypeIPv4 {
		return v, nil
	}
	return v, parseIPv4(c, EthernetHeaderLen, &v)
}

// ParseIPv4 decodes a packet that starts at its IPv4 header, as delivered
// by netfilter queues.
func ParseIPv4(pkt []byte) (View, error) {
	v := View{Length: len(pkt), EtherType: EtherTypeIPv4}
	return v, parseIPv4(NewCursor(pkt), 0, &v)
}

func parseIPv4(c Cursor, off int, v *View) error {
	ip, err := c.IPv4(off)
	if err != nil {
		return err
	}
	if ip.Version() != 4 || ip.IHL() < 5 {
		return ErrMalformed
	}

	v.IsIPv4 = true
	v.Protocol = ip.Protocol()
	v.SrcIP = ip.Src()
	v.DstIP = ip.Dst()

	if ip.FragmentOffset() != 0 {
		v.Fragment = true
		return nil
	}

	l4 := off + ip.HeaderLen()
	switch v.Protocol {
	case ProtoTCP:
		tcp, err := c.TCP(l4)
		if err != nil {
			return err
		}
		v.SrcPort = tcp.SrcPort()
		v.DstPort = tcp.DstPort()
		v.Flags = tcp.Flags()
	case ProtoUDP:
		udp, err := c.UDP(l4)
		if err != nil {
			return err
		}
		v.SrcPort = udp.SrcPort()
		v.DstPort = udp.DstPort()
	}
	return nil
}
