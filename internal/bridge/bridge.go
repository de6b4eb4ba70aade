package bridge

import (
	"time"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/link"
	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/netif"
)

// Bridge is a backward-learning switch. It learns the port behind every
// source address and unicasts to learned destinations, flooding otherwise.
type Bridge[A core.Address, P core.Packet[A]] struct {
	*Repeater[A, P]
	table *Table[A, netif.Interface[A, P]]
}

// New attaches a bridge to ifaces.
func New[A core.Address, P core.Packet[A]](cfg Config, ifaces ...netif.Interface[A, P]) *Bridge[A, P] {
	b := newBridge[A, P](cfg)
	b.attach(ifaces, nil)
	return b
}

// NewFromLinks creates one interface per link and attaches a bridge to
// them. The interfaces are closed with the bridge.
func NewFromLinks[A core.Address, P core.Packet[A]](cfg Config, links ...*link.Link[A, P]) *Bridge[A, P] {
	b := newBridge[A, P](cfg)
	b.attach(interfacesOn(links))
	return b
}

func newBridge[A core.Address, P core.Packet[A]](cfg Config) *Bridge[A, P] {
	name := cfg.name("bridge")
	b := &Bridge[A, P]{
		Repeater: newRepeater[A, P](name),
		table:    NewTable[A, netif.Interface[A, P]](name, cfg.Expiration, cfg.Now),
	}
	b.forward = b.process
	return b
}

// Table exposes the switching table, for sweeping and inspection.
func (b *Bridge[A, P]) Table() *Table[A, netif.Interface[A, P]] {
	return b.table
}

// SetClock replaces the clock used to age entries.
func (b *Bridge[A, P]) SetClock(now func() time.Time) {
	b.table.setClock(now)
}

func (b *Bridge[A, P]) process(in netif.Interface[A, P], pkt P) {
	dst := pkt.Destination()
	b.table.Learn(pkt.Source(), in)
	if core.IsMulticast(dst) {
		b.Flood(in, pkt)
		return
	}
	out, ok := b.table.Lookup(dst)
	if !ok {
		b.Flood(in, pkt)
		return
	}
	var zero A
	out.Send(pkt, zero)
	b.stats.Forward(metrics.ModeUnicast, 1)
}

// Clear forgets every learned address.
func (b *Bridge[A, P]) Clear() {
	b.table.Clear()
}

// Close clears the table and detaches the bridge from its ports.
func (b *Bridge[A, P]) Close() error {
	b.table.Clear()
	return b.Repeater.Close()
}
