// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package engine

import (
	"net"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/flowgate/internal/clock"
	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/rules"
)

type fixture struct {
	eng   *Engine
	conns *conntrack.Table
	rules *rules.Table
	clock *clock.MockClock
}

func newFixture(t *testing.T, capacity int, specs ...rules.Spec) *fixture {
	t.Helper()
	f := &fixture{
		conns: conntrack.NewTable(conntrack.TableConfig{Capacity: capacity}),
		rules: rules.NewTable(),
		clock: clock.NewMockClock(time.Unix(1700000000, 0)),
	}
	for i, s := range specs {
		r, err := s.Validate()
		require.NoError(t, err)
		r.ID = int64(i + 1)
		require.NoError(t, f.rules.Insert(r))
	}
	f.eng = New(f.conns, f.rules, f.clock)
	return f
}

type flags struct{ syn, ack, fin, rst bool }

func tcpFrame(t *testing.T, src string, sport uint16, dst string, dport uint16, fl flags) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolTCP,
		SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport),
		SYN: fl.syn, ACK: fl.ack, FIN: fl.fin, RST: fl.rst, Window: 1024}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth(layers.EthernetTypeIPv4), ip, tcp)
}

func udpFrame(t *testing.T, src string, sport uint16, dst string, dport uint16) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP,
		SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	udp := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))
	return serialize(t, eth(layers.EthernetTypeIPv4), ip, udp, gopacket.Payload([]byte("x")))
}

func icmpFrame(t *testing.T, src, dst string) []byte {
	t.Helper()
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolICMPv4,
		SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst)}
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	return serialize(t, eth(layers.EthernetTypeIPv4), ip, icmp)
}

func eth(et layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{2, 0, 0, 0, 0, 2},
		EthernetType: et,
	}
}

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ls...))
	return buf.Bytes()
}

func key(t *testing.T, src string, sport uint16, dst string, dport uint16, proto uint8) conntrack.Key {
	t.Helper()
	s, ok := conntrack.ParseIPv4(src)
	require.True(t, ok)
	d, ok := conntrack.ParseIPv4(dst)
	require.True(t, ok)
	return conntrack.NewKey(s, sport, d, dport, proto)
}

var allowHTTPS = rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", DestPort: "443", Action: "allow", Protocol: "tcp"}

func TestEngine_HandshakeAdmission(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	k := key(t, "10.0.0.5", 51000, "10.0.0.9", 443, conntrack.ProtoTCP)

	d := f.eng.Classify(tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{syn: true}))
	assert.Equal(t, Decision{VerdictPass, ReasonAdmitted}, d)
	v, ok := f.conns.Get(k)
	require.True(t, ok)
	assert.Equal(t, conntrack.TCP(conntrack.TCPSynSent), v.State)

	f.clock.Advance(time.Millisecond)
	d = f.eng.Classify(tcpFrame(t, "10.0.0.9", 443, "10.0.0.5", 51000, flags{syn: true, ack: true}))
	assert.Equal(t, Decision{VerdictPass, ReasonReply}, d)
	v, _ = f.conns.Get(k)
	assert.Equal(t, conntrack.TCP(conntrack.TCPSynReceived), v.State)
	assert.Equal(t, f.clock.Nanotime(), v.LastSeen)

	d = f.eng.Classify(tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{ack: true}))
	assert.Equal(t, Decision{VerdictPass, ReasonTracked}, d)
	v, _ = f.conns.Get(k)
	assert.Equal(t, conntrack.TCP(conntrack.TCPEstablished), v.State)
	assert.Equal(t, uint64(3), v.Packets)

	_, ok = f.conns.Get(k.Mirror())
	assert.False(t, ok, "only the forward key is stored")
	assert.Equal(t, 1, f.conns.Len())
}

func TestEngine_FinTransitions(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	k := key(t, "10.0.0.5", 51000, "10.0.0.9", 443, conntrack.ProtoTCP)
	require.NoError(t, f.conns.Insert(k, conntrack.Value{State: conntrack.TCP(conntrack.TCPEstablished)}))

	d := f.eng.Classify(tcpFrame(t, "10.0.0.9", 443, "10.0.0.5", 51000, flags{fin: true, ack: true}))
	assert.Equal(t, VerdictPass, d.Verdict)
	v, _ := f.conns.Get(k)
	assert.Equal(t, conntrack.TCP(conntrack.TCPEstablished), v.State, "reply FIN does not transition")

	d = f.eng.Classify(tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{fin: true, ack: true}))
	assert.Equal(t, VerdictPass, d.Verdict)
	v, _ = f.conns.Get(k)
	assert.Equal(t, conntrack.TCP(conntrack.TCPFinWait1), v.State)
}

func TestEngine_RSTTeardown(t *testing.T) {
	for _, fromReply := range []bool{false, true} {
		f := newFixture(t, 100, allowHTTPS)
		k := key(t, "10.0.0.5", 51000, "10.0.0.9", 443, conntrack.ProtoTCP)
		require.NoError(t, f.conns.Insert(k, conntrack.Value{State: conntrack.TCP(conntrack.TCPEstablished)}))

		frame := tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{rst: true})
		if fromReply {
			frame = tcpFrame(t, "10.0.0.9", 443, "10.0.0.5", 51000, flags{rst: true, ack: true})
		}
		d := f.eng.Classify(frame)
		assert.Equal(t, Decision{VerdictDrop, ReasonReset}, d)
		assert.Equal(t, 0, f.conns.Len())
	}
}

func TestEngine_DefaultDeny(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)

	d := f.eng.Classify(tcpFrame(t, "10.0.0.6", 51000, "10.0.0.9", 443, flags{syn: true}))
	assert.Equal(t, Decision{VerdictDrop, ReasonNoRule}, d)

	d = f.eng.Classify(udpFrame(t, "10.0.0.5", 5000, "10.0.0.9", 443))
	assert.Equal(t, Decision{VerdictDrop, ReasonNoRule}, d, "tcp rule does not admit udp")

	d = f.eng.Classify(icmpFrame(t, "10.0.0.5", "10.0.0.9"))
	assert.Equal(t, Decision{VerdictDrop, ReasonNoRule}, d)
	assert.Equal(t, 0, f.conns.Len())
}

func TestEngine_DenyRule(t *testing.T) {
	f := newFixture(t, 100, rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", DestPort: "22", Action: "deny"})
	d := f.eng.Classify(tcpFrame(t, "10.0.0.5", 40000, "10.0.0.9", 22, flags{syn: true}))
	assert.Equal(t, Decision{VerdictDrop, ReasonDenied}, d)
	assert.Equal(t, 0, f.conns.Len())
}

func TestEngine_AllowRequiresInitiatingPacket(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	for _, fl := range []flags{{ack: true}, {syn: true, ack: true}, {fin: true}, {}} {
		d := f.eng.Classify(tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, fl))
		assert.Equal(t, Decision{VerdictDrop, ReasonNotInitiating}, d)
	}
	assert.Equal(t, 0, f.conns.Len())
}

func TestEngine_UDPSymmetry(t *testing.T) {
	f := newFixture(t, 100, rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.53", DestPort: "53", Action: "allow", Protocol: "udp"})
	k := key(t, "10.0.0.5", 5353, "10.0.0.53", 53, conntrack.ProtoUDP)

	d := f.eng.Classify(udpFrame(t, "10.0.0.5", 5353, "10.0.0.53", 53))
	assert.Equal(t, Decision{VerdictPass, ReasonAdmitted}, d)
	v, _ := f.conns.Get(k)
	assert.Equal(t, conntrack.UDP(conntrack.UDPNew), v.State)

	d = f.eng.Classify(udpFrame(t, "10.0.0.53", 53, "10.0.0.5", 5353))
	assert.Equal(t, Decision{VerdictPass, ReasonReply}, d)
	v, _ = f.conns.Get(k)
	assert.Equal(t, conntrack.UDP(conntrack.UDPEstablished), v.State)
}

func TestEngine_UDPForwardEstablishes(t *testing.T) {
	f := newFixture(t, 100, rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.53", Action: "allow"})
	k := key(t, "10.0.0.5", 5353, "10.0.0.53", 53, conntrack.ProtoUDP)

	f.eng.Classify(udpFrame(t, "10.0.0.5", 5353, "10.0.0.53", 53))
	d := f.eng.Classify(udpFrame(t, "10.0.0.5", 5353, "10.0.0.53", 53))
	assert.Equal(t, Decision{VerdictPass, ReasonTracked}, d)
	v, _ := f.conns.Get(k)
	assert.Equal(t, conntrack.UDP(conntrack.UDPEstablished), v.State)
}

func TestEngine_WildcardRule(t *testing.T) {
	f := newFixture(t, 100, rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", DestPort: "*", Action: "allow"})
	d := f.eng.Classify(tcpFrame(t, "10.0.0.5", 40000, "10.0.0.9", 8443, flags{syn: true}))
	assert.Equal(t, Decision{VerdictPass, ReasonAdmitted}, d)

	d = f.eng.Classify(icmpFrame(t, "10.0.0.5", "10.0.0.9"))
	assert.Equal(t, Decision{VerdictPass, ReasonUntrackedAllowed}, d)
	assert.Equal(t, 1, f.conns.Len(), "icmp is not tracked")
}

func TestEngine_CapacityDrops(t *testing.T) {
	f := newFixture(t, 1, rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", Action: "allow"})

	d := f.eng.Classify(udpFrame(t, "10.0.0.5", 1000, "10.0.0.9", 53))
	assert.Equal(t, VerdictPass, d.Verdict)
	d = f.eng.Classify(udpFrame(t, "10.0.0.5", 1001, "10.0.0.9", 53))
	assert.Equal(t, Decision{VerdictDrop, ReasonCapacity}, d)

	d = f.eng.Classify(udpFrame(t, "10.0.0.9", 53, "10.0.0.5", 1000))
	assert.Equal(t, Decision{VerdictPass, ReasonReply}, d, "tracked flows keep working at capacity")
}

func TestEngine_AbortOnTruncation(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	frame := tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{syn: true})

	for _, n := range []int{0, 10, 14, 33, 40, 53} {
		d := f.eng.Classify(frame[:n])
		assert.Equal(t, Decision{VerdictAbort, ReasonBounds}, d, "length %d", n)
	}
	assert.Equal(t, 0, f.conns.Len())
}

func TestEngine_AbortOnMalformed(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	frame := tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{syn: true})
	frame[14] = 0x43
	assert.Equal(t, Decision{VerdictAbort, ReasonMalformed}, f.eng.Classify(frame))
}

func TestEngine_NonIPv4Passes(t *testing.T) {
	f := newFixture(t, 100)
	frame := serialize(t, eth(layers.EthernetTypeIPv6), gopacket.Payload(make([]byte, 40)))
	assert.Equal(t, Decision{VerdictPass, ReasonNonIPv4}, f.eng.Classify(frame))
}

func TestEngine_FragmentDropped(t *testing.T) {
	f := newFixture(t, 100, rules.Spec{SourceIP: "10.0.0.5", DestIP: "10.0.0.9", Action: "allow"})
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: layers.IPProtocolUDP, FragOffset: 100,
		SrcIP: net.ParseIP("10.0.0.5"), DstIP: net.ParseIP("10.0.0.9")}
	frame := serialize(t, eth(layers.EthernetTypeIPv4), ip, gopacket.Payload([]byte{1, 2, 3, 4}))
	assert.Equal(t, Decision{VerdictDrop, ReasonFragment}, f.eng.Classify(frame))
}

func TestEngine_ClassifyIPv4(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	frame := tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{syn: true})
	d := f.eng.ClassifyIPv4(frame[14:])
	assert.Equal(t, Decision{VerdictPass, ReasonAdmitted}, d)
}

func TestEngine_Stats(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	f.eng.Classify(tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{syn: true}))
	f.eng.Classify(tcpFrame(t, "10.0.0.6", 51000, "10.0.0.9", 443, flags{syn: true}))
	f.eng.Classify([]byte{1, 2, 3})

	snap := f.eng.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.Pass)
	assert.Equal(t, uint64(1), snap.Drop)
	assert.Equal(t, uint64(1), snap.Abort)
	assert.Equal(t, uint64(3), snap.Total())
	assert.Equal(t, uint64(1), snap.Reasons["admitted"])
	assert.Equal(t, uint64(1), snap.Reasons["no_rule"])
	assert.Equal(t, uint64(3), snap.Bytes["abort"])
	assert.Equal(t, uint64(1), f.eng.Stats().Reason(ReasonBounds))

	assert.Equal(t, map[int64]uint64{1: 1}, f.rules.DrainHits())
}

func TestEngine_ClassifyNoAllocs(t *testing.T) {
	f := newFixture(t, 100, allowHTTPS)
	syn := tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{syn: true})
	ack := tcpFrame(t, "10.0.0.5", 51000, "10.0.0.9", 443, flags{ack: true})
	denied := tcpFrame(t, "10.0.0.7", 51000, "10.0.0.9", 443, flags{syn: true})
	f.eng.Classify(syn)

	allocs := testing.AllocsPerRun(200, func() {
		f.eng.Classify(ack)
		f.eng.Classify(denied)
		f.eng.Classify(ack[:20])
	})
	assert.Zero(t, allocs)
}

func TestReasonVerdicts(t *testing.T) {
	for _, r := range Reasons() {
		assert.NotEqual(t, "unknown", r.String())
	}
	assert.Equal(t, "pass(admitted)", pass(ReasonAdmitted).String())
	assert.True(t, VerdictPass.Forward())
	assert.False(t, VerdictAbort.Forward())
	assert.Equal(t, VerdictAbort, Verdict(0))
}

func FuzzClassify(f *testing.F) {
	f.Add([]byte{})
	f.Add(make([]byte, 54))
	fx := &fixture{
		conns: conntrack.NewTable(conntrack.TableConfig{Capacity: 64}),
		rules: rules.NewTable(),
		clock: clock.NewMockClock(time.Unix(0, 0)),
	}
	fx.eng = New(fx.conns, fx.rules, fx.clock)
	f.Fuzz(func(t *testing.T, b []byte) {
		d := fx.eng.Classify(b)
		if d.Verdict > VerdictPass {
			t.Fatalf("invalid verdict %d", d.Verdict)
		}
	})
}
