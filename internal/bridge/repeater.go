// Package bridge implements layer-2 forwarding nodes: a flooding repeater
// and a backward-learning bridge built on it.
package bridge

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/link"
	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/netif"
)

// Config configures a forwarding node.
type Config struct {
	// Name labels the node in logs and metrics. Empty selects a random name.
	Name string
	// Expiration is the bridge learning window, DefaultExpiration if zero.
	Expiration time.Duration
	// Now is the bridge clock, time.Now if nil.
	Now func() time.Time
}

func (c Config) name(kind string) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s-%08x", kind, rand.Uint32())
}

// Repeater floods every packet received on one port to all the others.
type Repeater[A core.Address, P core.Packet[A]] struct {
	mu       sync.Mutex
	ports    []netif.Interface[A, P]
	owned    []netif.Interface[A, P]
	listener *netif.ListenerFunc[A, P]
	forward  func(in netif.Interface[A, P], pkt P)
	closed   bool
	stats    *metrics.Node
}

// NewRepeater attaches a repeater to ifaces.
func NewRepeater[A core.Address, P core.Packet[A]](cfg Config, ifaces ...netif.Interface[A, P]) *Repeater[A, P] {
	r := newRepeater[A, P](cfg.name("repeater"))
	r.attach(ifaces, nil)
	return r
}

// NewRepeaterFromLinks creates one interface per link and attaches a
// repeater to them. The interfaces are closed with the repeater.
func NewRepeaterFromLinks[A core.Address, P core.Packet[A]](cfg Config, links ...*link.Link[A, P]) *Repeater[A, P] {
	r := newRepeater[A, P](cfg.name("repeater"))
	r.attach(interfacesOn(links))
	return r
}

func newRepeater[A core.Address, P core.Packet[A]](name string) *Repeater[A, P] {
	r := &Repeater[A, P]{stats: metrics.NewNode(name)}
	r.forward = r.Flood
	r.listener = netif.NewListener(func(in netif.Interface[A, P], pkt P) {
		r.forward(in, pkt)
	})
	return r
}

func interfacesOn[A core.Address, P core.Packet[A]](links []*link.Link[A, P]) ([]netif.Interface[A, P], []netif.Interface[A, P]) {
	ifaces := make([]netif.Interface[A, P], 0, len(links))
	for _, l := range links {
		ifaces = append(ifaces, l.NewInterface())
	}
	return ifaces, ifaces
}

func (r *Repeater[A, P]) attach(ifaces, owned []netif.Interface[A, P]) {
	r.mu.Lock()
	r.ports = slices.Clone(ifaces)
	r.owned = owned
	r.mu.Unlock()
	for _, ni := range ifaces {
		ni.AddListener(r.listener)
	}
}

// Name returns the node name used in logs and metrics.
func (r *Repeater[A, P]) Name() string {
	return r.stats.Name
}

// Stats returns the forwarding counters of the node.
func (r *Repeater[A, P]) Stats() *metrics.Node {
	return r.stats
}

// Ports returns the attached interfaces.
func (r *Repeater[A, P]) Ports() []netif.Interface[A, P] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ports)
}

// Flood sends pkt, without next hop, on every port except in.
func (r *Repeater[A, P]) Flood(in netif.Interface[A, P], pkt P) {
	var zero A
	n := 0
	for _, ni := range r.Ports() {
		if ni == in {
			continue
		}
		ni.Send(pkt, zero)
		n++
	}
	r.stats.Forward(metrics.ModeFlood, n)
}

// Close detaches the repeater from its ports. It is idempotent.
func (r *Repeater[A, P]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ports, owned := r.ports, r.owned
	r.ports, r.owned = nil, nil
	r.mu.Unlock()

	for _, ni := range ports {
		ni.RemoveListener(r.listener)
	}
	for _, ni := range owned {
		if err := ni.Close(); err != nil {
			slog.Warn("failed to close port", "node", r.Name(), "iface", ni.Name(), "error", err)
		}
	}
	return nil
}
