package sniffer

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/filter"
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/protocol"
)

// Dump writes a one-line description of each packet.
type Dump[A core.Address, P core.Packet[A]] struct {
	mu    sync.Mutex
	w     io.Writer
	match filter.Match
}

// NewDump writes to w the packets accepted by match (all if nil).
func NewDump[A core.Address, P core.Packet[A]](w io.Writer, match filter.Match) *Dump[A, P] {
	if match == nil {
		match = filter.All
	}
	return &Dump[A, P]{w: w, match: match}
}

func (d *Dump[A, P]) ProcessPacket(ni netif.Interface[A, P], pkt P) {
	onion := protocol.Explore(pkt)
	if !d.match.Match(onion) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintln(d.w, protocol.DescribeOnion(onion)); err != nil {
		slog.Warn("failed to write packet dump", "iface", ni.Name(), "error", err)
	}
}

// NewDumpSniffer taps ni and dumps what match accepts to w.
func NewDumpSniffer[A core.Address, P core.Packet[A]](ni netif.Interface[A, P], w io.Writer, match filter.Match) *Sniffer[A, P] {
	return New[A, P](ni, NewDump[A, P](w, match))
}
