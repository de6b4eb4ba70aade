// Package prototest builds well-formed frames for tests.
package prototest

import (
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/protocol"
)

// MAC returns a locally administered unicast address ending in b.
func MAC(b byte) protocol.MAC {
	return protocol.MAC{0x02, 0x00, 0x00, 0x00, 0x00, b}
}

// Frame is an Ethernet frame with a payload of n bytes and ethertype 0x88b5
// (local experimental).
func Frame(src, dst protocol.MAC, n int) *protocol.EthPacket {
	return protocol.NewEthPacket(src, dst, layers.EthernetType(0x88b5), make([]byte, n))
}

// TCP builds an Ethernet > IPv4/IPv6 > TCP frame.
func TCP(t testing.TB, src, dst netip.AddrPort, payload []byte) *protocol.EthPacket {
	t.Helper()
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(src.Port()),
		DstPort: layers.TCPPort(dst.Port()),
		Seq:     1,
		SYN:     true,
		Window:  65535,
	}
	return transport(t, src.Addr(), dst.Addr(), layers.IPProtocolTCP, tcp, payload)
}

// UDP builds an Ethernet > IPv4/IPv6 > UDP frame.
func UDP(t testing.TB, src, dst netip.AddrPort, payload []byte) *protocol.EthPacket {
	t.Helper()
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	return transport(t, src.Addr(), dst.Addr(), layers.IPProtocolUDP, udp, payload)
}

type checksummed interface {
	gopacket.SerializableLayer
	SetNetworkLayerForChecksum(gopacket.NetworkLayer) error
}

func transport(t testing.TB, src, dst netip.Addr, proto layers.IPProtocol, l4 checksummed, payload []byte) *protocol.EthPacket {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC: MAC(1).HWAddr(),
		DstMAC: MAC(2).HWAddr(),
	}
	var network gopacket.NetworkLayer
	if src.Is4() {
		eth.EthernetType = layers.EthernetTypeIPv4
		network = &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: src.AsSlice(), DstIP: dst.AsSlice()}
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		network = &layers.IPv6{Version: 6, HopLimit: 64, NextHeader: proto, SrcIP: src.AsSlice(), DstIP: dst.AsSlice()}
	}
	if err := l4.SetNetworkLayerForChecksum(network); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network.(gopacket.SerializableLayer), l4, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	pkt, err := protocol.ParseEthPacket(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseEthPacket: %v", err)
	}
	return pkt
}

// IP builds a bare IPv4/IPv6 > UDP datagram.
func IP(t testing.TB, src, dst netip.Addr, ttl uint8) *protocol.IPPacket {
	t.Helper()
	udp := &layers.UDP{SrcPort: 5000, DstPort: 5001}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, udp, gopacket.Payload([]byte("ping"))); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}
	pkt, err := protocol.NewIPPacket(src, dst, layers.IPProtocolUDP, ttl, buf.Bytes())
	if err != nil {
		t.Fatalf("NewIPPacket: %v", err)
	}
	return pkt
}
