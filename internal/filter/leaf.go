package filter

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/protocol"
)

// Direction selects which side of a packet a leaf looks at.
type Direction int

const (
	Any Direction = iota
	Src
	Dst
)

func (d Direction) String() string {
	switch d {
	case Src:
		return "src"
	case Dst:
		return "dst"
	default:
		return "any"
	}
}

func (d Direction) test(src, dst bool) bool {
	switch d {
	case Src:
		return src
	case Dst:
		return dst
	default:
		return src || dst
	}
}

// Protocol matches packets carrying a given layer.
type Protocol int

const (
	ETH Protocol = iota
	ARP
	IP4
	IP6
	ICMP
	ICMP6
	TCP
	UDP
)

var protocols = []struct {
	name  string
	layer gopacket.LayerType
}{
	ETH:   {"eth", layers.LayerTypeEthernet},
	ARP:   {"arp", layers.LayerTypeARP},
	IP4:   {"ip", layers.LayerTypeIPv4},
	IP6:   {"ip6", layers.LayerTypeIPv6},
	ICMP:  {"icmp", layers.LayerTypeICMPv4},
	ICMP6: {"icmp6", layers.LayerTypeICMPv6},
	TCP:   {"tcp", layers.LayerTypeTCP},
	UDP:   {"udp", layers.LayerTypeUDP},
}

// ParseProtocol parses a protocol name as used by tcpdump.
func ParseProtocol(s string) (Protocol, error) {
	name := strings.ToLower(s)
	switch name {
	case "ip4", "ipv4":
		name = "ip"
	case "ipv6":
		name = "ip6"
	case "icmp4":
		name = "icmp"
	}
	for p, v := range protocols {
		if v.name == name {
			return Protocol(p), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", core.ErrUnsupportedProto, s)
}

func (p Protocol) String() string {
	if int(p) < len(protocols) {
		return protocols[p].name
	}
	return fmt.Sprintf("proto(%d)", int(p))
}

func (p Protocol) Match(o protocol.Onion) bool {
	if int(p) >= len(protocols) {
		return false
	}
	return o.Layer(protocols[p].layer) != nil
}

type port struct {
	port uint16
	dir  Direction
}

// Port matches TCP or UDP packets using port n on the given side.
func Port(n uint16, dir Direction) Match {
	return port{n, dir}
}

func (p port) Match(o protocol.Onion) bool {
	for _, l := range o {
		switch v := l.(type) {
		case *layers.TCP:
			return p.dir.test(uint16(v.SrcPort) == p.port, uint16(v.DstPort) == p.port)
		case *layers.UDP:
			return p.dir.test(uint16(v.SrcPort) == p.port, uint16(v.DstPort) == p.port)
		}
	}
	return false
}

func (p port) String() string { return fmt.Sprintf("%v port %d", p.dir, p.port) }

type host struct {
	pfx netip.Prefix
	dir Direction
}

// Host matches IP (or ARP) packets whose address on the given side is addr.
func Host(addr netip.Addr, dir Direction) Match {
	return host{netip.PrefixFrom(addr, addr.BitLen()), dir}
}

// Net matches IP (or ARP) packets whose address on the given side is in pfx.
func Net(pfx netip.Prefix, dir Direction) Match {
	return host{pfx.Masked(), dir}
}

func (h host) contains(b []byte) bool {
	a, ok := netip.AddrFromSlice(b)
	return ok && h.pfx.Contains(a.Unmap())
}

func (h host) Match(o protocol.Onion) bool {
	for _, l := range o {
		switch v := l.(type) {
		case *layers.IPv4:
			if h.dir.test(h.contains(v.SrcIP), h.contains(v.DstIP)) {
				return true
			}
		case *layers.IPv6:
			if h.dir.test(h.contains(v.SrcIP), h.contains(v.DstIP)) {
				return true
			}
		case *layers.ARP:
			if h.dir.test(h.contains(v.SourceProtAddress), h.contains(v.DstProtAddress)) {
				return true
			}
		}
	}
	return false
}

func (h host) String() string { return fmt.Sprintf("%v host %v", h.dir, h.pfx) }

type hwaddr struct {
	mac net.HardwareAddr
	dir Direction
}

// HardwareAddr matches Ethernet frames whose address on the given side is mac.
func HardwareAddr(mac protocol.MAC, dir Direction) Match {
	return hwaddr{mac.HWAddr(), dir}
}

func (h hwaddr) Match(o protocol.Onion) bool {
	eth, ok := o.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		return false
	}
	return h.dir.test(string(eth.SrcMAC) == string(h.mac), string(eth.DstMAC) == string(h.mac))
}

func (h hwaddr) String() string { return fmt.Sprintf("%v ether %v", h.dir, h.mac) }
