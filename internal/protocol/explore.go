package protocol

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Encoded is anything with a serialized form.
type Encoded interface {
	Bytes() []byte
}

// Layered is implemented by packets that know their outermost layer type.
type Layered interface {
	FirstLayer() gopacket.LayerType
}

// Onion is the ordered chain of layers of a packet, outermost first.
type Onion []gopacket.Layer

// FirstLayerOf returns the outermost layer type of pkt, defaulting to
// Ethernet for packets that don't say.
func FirstLayerOf(pkt Encoded) gopacket.LayerType {
	if l, ok := pkt.(Layered); ok {
		return l.FirstLayer()
	}
	return layers.LayerTypeEthernet
}

// Explore decodes pkt into its nested layers.
func Explore(pkt Encoded) Onion {
	return ExploreBytes(pkt.Bytes(), FirstLayerOf(pkt))
}

// ExploreBytes decodes data starting at the given layer. Decoding stops at
// the first layer gopacket can't parse; what was decoded so far is returned.
func ExploreBytes(data []byte, first gopacket.LayerType) Onion {
	p := gopacket.NewPacket(data, first, gopacket.Default)
	return Onion(p.Layers())
}

// Layer returns the first layer of type t, or nil.
func (o Onion) Layer(t gopacket.LayerType) gopacket.Layer {
	for _, l := range o {
		if l.LayerType() == t {
			return l
		}
	}
	return nil
}

// Describe renders pkt as a single line, one segment per decoded layer.
// Transport segments carry "addr:port" pairs.
func Describe(pkt Encoded) string {
	return DescribeOnion(Explore(pkt))
}

// DescribeOnion renders an already decoded layer chain.
func DescribeOnion(o Onion) string {
	var (
		parts    []string
		src, dst netip.Addr
	)
	for _, l := range o {
		switch v := l.(type) {
		case *layers.Ethernet:
			parts = append(parts, fmt.Sprintf("ETH %v > %v %v", v.SrcMAC, v.DstMAC, v.EthernetType))
		case *layers.ARP:
			sip, _ := netip.AddrFromSlice(v.SourceProtAddress)
			dip, _ := netip.AddrFromSlice(v.DstProtAddress)
			op := "request"
			if v.Operation == layers.ARPReply {
				op = "reply"
			}
			parts = append(parts, fmt.Sprintf("ARP %s %v > %v", op, sip, dip))
		case *layers.IPv4:
			src, _ = netip.AddrFromSlice(v.SrcIP)
			dst, _ = netip.AddrFromSlice(v.DstIP)
			parts = append(parts, fmt.Sprintf("IP4 %v > %v ttl %d", src, dst, v.TTL))
		case *layers.IPv6:
			src, _ = netip.AddrFromSlice(v.SrcIP)
			dst, _ = netip.AddrFromSlice(v.DstIP)
			parts = append(parts, fmt.Sprintf("IP6 %v > %v hlim %d", src, dst, v.HopLimit))
		case *layers.TCP:
			parts = append(parts, fmt.Sprintf("TCP %v > %v [%s] seq %d len %d",
				netip.AddrPortFrom(src, uint16(v.SrcPort)), netip.AddrPortFrom(dst, uint16(v.DstPort)),
				tcpFlags(v), v.Seq, len(v.Payload)))
		case *layers.UDP:
			parts = append(parts, fmt.Sprintf("UDP %v > %v len %d",
				netip.AddrPortFrom(src, uint16(v.SrcPort)), netip.AddrPortFrom(dst, uint16(v.DstPort)), len(v.Payload)))
		case *layers.ICMPv4:
			parts = append(parts, fmt.Sprintf("ICMP %v id %d seq %d", v.TypeCode, v.Id, v.Seq))
		case *layers.ICMPv6:
			parts = append(parts, fmt.Sprintf("ICMP6 %v", v.TypeCode))
		case *gopacket.Payload:
			parts = append(parts, fmt.Sprintf("DATA len %d", len(*v)))
		case *gopacket.DecodeFailure:
			parts = append(parts, fmt.Sprintf("UNDECODED len %d", len(v.LayerContents())))
		default:
			// ICMPv6 sub-messages and the like
			if len(parts) > 0 && strings.HasPrefix(parts[len(parts)-1], "ICMP6") {
				continue
			}
			parts = append(parts, l.LayerType().String())
		}
	}
	return strings.Join(parts, " | ")
}

func tcpFlags(t *layers.TCP) string {
	var b strings.Builder
	for _, f := range []struct {
		set  bool
		flag byte
	}{
		{t.SYN, 'S'}, {t.FIN, 'F'}, {t.RST, 'R'}, {t.PSH, 'P'}, {t.ACK, '.'}, {t.URG, 'U'},
	} {
		if f.set {
			b.WriteByte(f.flag)
		}
	}
	return b.String()
}
