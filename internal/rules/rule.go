// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package rules defines administrator rules and the live table the packet
// path consults to admit new flows.
package rules

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"grimm.is/flowgate/internal/errors"
)

// Key is the exact-match key of the live table. DstPort 0 is the wildcard.
type Key struct {
	SrcIP   uint32
	DstIP   uint32
	DstPort uint16
}

func (k Key) String() string {
	port := "*"
	if k.DstPort != 0 {
		port = strconv.Itoa(int(k.DstPort))
	}
	return fmt.Sprintf("%s -> %s:%s", ipString(k.SrcIP), ipString(k.DstIP), port)
}

// Action is the decision a rule applies to new flows.
type Action uint8

const (
	ActionDeny  Action = 0
	ActionAllow Action = 1
)

func (a Action) String() string {
	if a == ActionAllow {
		return "allow"
	}
	return "deny"
}

// ParseAction accepts "allow" or "deny" in any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return ActionAllow, nil
	case "deny":
		return ActionDeny, nil
	}
	return ActionDeny, errors.Attr(errors.Errorf(errors.KindValidation, "invalid action %q: must be allow or deny", s), "field", "action")
}

// Protocol restricts which transport a rule matches.
type Protocol uint8

const (
	ProtocolAny Protocol = 0
	ProtocolTCP Protocol = 6
	ProtocolUDP Protocol = 17
)

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolUDP:
		return "udp"
	default:
		return "any"
	}
}

// Matches reports whether a packet with IP protocol number proto is covered.
func (p Protocol) Matches(proto uint8) bool {
	return p == ProtocolAny || uint8(p) == proto
}

// ParseProtocol accepts "tcp", "udp", "any", "*" or empty.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "*":
		return ProtocolAny, nil
	case "tcp":
		return ProtocolTCP, nil
	case "udp":
		return ProtocolUDP, nil
	}
	return ProtocolAny, errors.Attr(errors.Errorf(errors.KindValidation, "invalid protocol %q: must be tcp, udp or any", s), "field", "protocol")
}

// Spec is a rule as submitted by an administrator.
type Spec struct {
	SourceIP   string `json:"source_ip"`
	DestIP     string `json:"dest_ip"`
	SourcePort string `json:"source_port"`
	DestPort   string `json:"dest_port"`
	Action     string `json:"action"`
	Protocol   string `json:"protocol"`
}

// Rule is a validated rule. Port 0 means any port.
type Rule struct {
	ID         int64     `json:"id"`
	SourceIP   string    `json:"source_ip"`
	DestIP     string    `json:"dest_ip"`
	SourcePort uint16    `json:"source_port"`
	DestPort   uint16    `json:"dest_port"`
	Action     Action    `json:"action"`
	Protocol   Protocol  `json:"protocol"`
	UsageCount uint64    `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate parses s into a Rule. Every failure is a validation error that
// names the offending field.
func (s Spec) Validate() (Rule, error) {
	var r Rule

	src, err := parseAddr("source_ip", s.SourceIP)
	if err != nil {
		return r, err
	}
	dst, err := parseAddr("dest_ip", s.DestIP)
	if err != nil {
		return r, err
	}
	if r.SourcePort, err = ParsePort("source_port", s.SourcePort); err != nil {
		return r, err
	}
	if r.DestPort, err = ParsePort("dest_port", s.DestPort); err != nil {
		return r, err
	}
	if r.Action, err = ParseAction(s.Action); err != nil {
		return r, err
	}
	if r.Protocol, err = ParseProtocol(s.Protocol); err != nil {
		return r, err
	}

	r.SourceIP = ipString(src)
	r.DestIP = ipString(dst)
	return r, nil
}

// Key returns the live table key of r. The addresses must already be
// validated.
func (r Rule) Key() Key {
	src, _ := parseIPv4(r.SourceIP)
	dst, _ := parseIPv4(r.DestIP)
	return Key{SrcIP: src, DstIP: dst, DstPort: r.DestPort}
}

// Spec converts r back to its submitted form.
func (r Rule) Spec() Spec {
	return Spec{
		SourceIP:   r.SourceIP,
		DestIP:     r.DestIP,
		SourcePort: FormatPort(r.SourcePort),
		DestPort:   FormatPort(r.DestPort),
		Action:     r.Action.String(),
		Protocol:   r.Protocol.String(),
	}
}

// ParsePort accepts a decimal port, "*" or empty. "*", empty and "0" all
// mean any port.
func ParsePort(field, s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Attr(errors.Errorf(errors.KindValidation, "invalid %s %q: must be 0-65535 or *", field, s), "field", field)
	}
	return uint16(n), nil
}

// FormatPort renders port 0 as "*".
func FormatPort(p uint16) string {
	if p == 0 {
		return "*"
	}
	return strconv.Itoa(int(p))
}

func parseAddr(field, s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Attr(errors.Errorf(errors.KindValidation, "%s is required", field), "field", field)
	}
	ip, ok := parseIPv4(s)
	if !ok {
		return 0, errors.Attr(errors.Errorf(errors.KindValidation, "invalid %s %q: must be an IPv4 address", field, s), "field", field)
	}
	return ip, nil
}

func parseIPv4(s string) (uint32, bool) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

func ipString(ip uint32) string {
	return net.IPv4(byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip)).String()
}
