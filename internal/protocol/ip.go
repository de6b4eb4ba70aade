package protocol

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/core"
)

// IPPacket is an IPv4 or IPv6 datagram.
type IPPacket struct {
	src, dst netip.Addr
	proto    layers.IPProtocol
	ttl      uint8
	data     []byte
}

// NewIPPacket builds an IPv4 or IPv6 datagram, depending on the family of
// src and dst, with the given TTL (hop limit) and payload.
func NewIPPacket(src, dst netip.Addr, proto layers.IPProtocol, ttl uint8, payload []byte) (*IPPacket, error) {
	if src.Is4() != dst.Is4() {
		return nil, fmt.Errorf("mixed address families %v > %v: %w", src, dst, core.ErrUnsupportedProto)
	}
	var network gopacket.SerializableLayer
	if src.Is4() {
		network = &layers.IPv4{
			Version:  4,
			IHL:      5,
			TTL:      ttl,
			Protocol: proto,
			SrcIP:    src.AsSlice(),
			DstIP:    dst.AsSlice(),
		}
	} else {
		network = &layers.IPv6{
			Version:    6,
			HopLimit:   ttl,
			NextHeader: proto,
			SrcIP:      src.AsSlice(),
			DstIP:      dst.AsSlice(),
		}
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, network, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize ip packet: %w", err)
	}
	return ParseIPPacket(buf.Bytes())
}

// ParseIPPacket decodes the IP header of data, selecting the family from the
// version nibble.
func ParseIPPacket(data []byte) (*IPPacket, error) {
	if len(data) < 1 {
		return nil, core.ErrPacketTooShort
	}
	switch data[0] >> 4 {
	case 4:
		var ip layers.IPv4
		if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("ipv4: %v: %w", err, core.ErrPacketTooShort)
		}
		src, _ := netip.AddrFromSlice(ip.SrcIP)
		dst, _ := netip.AddrFromSlice(ip.DstIP)
		return &IPPacket{src: src, dst: dst, proto: ip.Protocol, ttl: ip.TTL, data: data}, nil
	case 6:
		var ip layers.IPv6
		if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, fmt.Errorf("ipv6: %v: %w", err, core.ErrPacketTooShort)
		}
		src, _ := netip.AddrFromSlice(ip.SrcIP)
		dst, _ := netip.AddrFromSlice(ip.DstIP)
		return &IPPacket{src: src, dst: dst, proto: ip.NextHeader, ttl: ip.HopLimit, data: data}, nil
	default:
		return nil, fmt.Errorf("ip version %d: %w", data[0]>>4, core.ErrUnsupportedProto)
	}
}

func (p *IPPacket) Source() netip.Addr          { return p.src }
func (p *IPPacket) Destination() netip.Addr     { return p.dst }
func (p *IPPacket) Bytes() []byte               { return p.data }
func (p *IPPacket) Protocol() layers.IPProtocol { return p.proto }

// TTL returns the IPv4 time-to-live or the IPv6 hop limit.
func (p *IPPacket) TTL() uint8 { return p.ttl }

func (p *IPPacket) FirstLayer() gopacket.LayerType {
	if p.src.Is4() {
		return layers.LayerTypeIPv4
	}
	return layers.LayerTypeIPv6
}

// WithTTL returns a copy of p with its TTL (hop limit) replaced and the
// header checksum recomputed.
func (p *IPPacket) WithTTL(ttl uint8) (*IPPacket, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	var err error
	if p.src.Is4() {
		var ip layers.IPv4
		if err = ip.DecodeFromBytes(p.data, gopacket.NilDecodeFeedback); err != nil {
			return nil, err
		}
		ip.TTL = ttl
		err = gopacket.SerializeLayers(buf, opts, &ip, gopacket.Payload(ip.Payload))
	} else {
		var ip layers.IPv6
		if err = ip.DecodeFromBytes(p.data, gopacket.NilDecodeFeedback); err != nil {
			return nil, err
		}
		ip.HopLimit = ttl
		err = gopacket.SerializeLayers(buf, opts, &ip, gopacket.Payload(ip.Payload))
	}
	if err != nil {
		return nil, fmt.Errorf("rewrite ttl: %w", err)
	}
	q := *p
	q.ttl = ttl
	q.data = buf.Bytes()
	return &q, nil
}

func (p *IPPacket) String() string {
	v := "IP4"
	if p.src.Is6() {
		v = "IP6"
	}
	return fmt.Sprintf("%s %v > %v proto %v ttl %d len %d", v, p.src, p.dst, p.proto, p.ttl, len(p.data))
}
