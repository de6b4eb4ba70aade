package sniffer

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync/atomic"

	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/pcap"
	"firestige.xyz/fabric/internal/protocol"
)

// Pcap records packets to a capture file.
type Pcap[A core.Address, P core.Packet[A]] struct {
	w       *pcap.Writer
	skipSSH atomic.Bool
}

// NewPcap records to w. The writer is closed with the sink.
func NewPcap[A core.Address, P core.Packet[A]](w *pcap.Writer) *Pcap[A, P] {
	return &Pcap[A, P]{w: w}
}

// SkipSSH drops packets whose description mentions port 22. The check is
// textual and coarse.
func (p *Pcap[A, P]) SkipSSH(skip bool) {
	p.skipSSH.Store(skip)
}

func (p *Pcap[A, P]) ProcessPacket(ni netif.Interface[A, P], pkt P) {
	if p.skipSSH.Load() && MentionsSSH(pkt) {
		return
	}
	if err := p.w.Write(pkt); err != nil {
		slog.Warn("failed to write capture record", "iface", ni.Name(), "error", err)
	}
}

// MentionsSSH reports whether the description of pkt names port 22.
func MentionsSSH(pkt protocol.Encoded) bool {
	return strings.Contains(protocol.Describe(pkt), ":22 ")
}

func (p *Pcap[A, P]) Close() error {
	return p.w.Close()
}

// NewPcapSniffer taps ni and records its traffic to a new capture file at
// path. A zero linkType is guessed from the interface address.
func NewPcapSniffer[A core.Address, P core.Packet[A]](ni netif.Interface[A, P], path string, linkType layers.LinkType, skipSSH bool) (*Sniffer[A, P], error) {
	if linkType == 0 {
		lt, err := GuessLinkType(ni)
		if err != nil {
			return nil, err
		}
		linkType = lt
	}
	w, err := pcap.CreateFile(path, pcap.NewHeader(linkType))
	if err != nil {
		return nil, err
	}
	sink := NewPcap[A, P](w)
	sink.SkipSSH(skipSSH)
	return New[A, P](ni, sink), nil
}

// GuessLinkType infers the capture link type from the address family of ni.
func GuessLinkType[A core.Address, P core.Packet[A]](ni netif.Interface[A, P]) (layers.LinkType, error) {
	addr := ni.Address()
	switch a := any(addr).(type) {
	case protocol.MAC:
		return layers.LinkTypeEthernet, nil
	case netip.Addr:
		switch {
		case a.Is4():
			return layers.LinkTypeIPv4, nil
		case a.Is6():
			return layers.LinkTypeIPv6, nil
		}
	}
	return 0, fmt.Errorf("%w for interface %s", core.ErrUnknownLinkType, ni.Name())
}
