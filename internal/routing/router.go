package routing

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"slices"
	"sync"

	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/protocol"
)

// Port is an IP interface attached to a router.
type Port = netif.Interface[netip.Addr, *protocol.IPPacket]

// Router forwards IP packets between its ports according to a routing
// table. The TTL (hop limit) is decremented on every hop and packets that
// would leave with a zero TTL are dropped.
type Router struct {
	mu       sync.Mutex
	ports    []Port
	table    *Table[Port]
	listener *netif.ListenerFunc[netip.Addr, *protocol.IPPacket]
	stats    *metrics.Node
	closed   bool
}

// NewRouter attaches a router called name (random if empty) to ports.
func NewRouter(name string, ports ...Port) *Router {
	if name == "" {
		name = fmt.Sprintf("router-%08x", rand.Uint32())
	}
	r := &Router{
		ports: slices.Clone(ports),
		table: NewTable[Port](),
		stats: metrics.NewNode(name),
	}
	r.listener = netif.NewListener(r.process)
	for _, p := range r.ports {
		p.AddListener(r.listener)
	}
	return r
}

// Table returns the routing table.
func (r *Router) Table() *Table[Port] {
	return r.table
}

// Stats returns the forwarding counters.
func (r *Router) Stats() *metrics.Node {
	return r.stats
}

func (r *Router) ownAddress(a netip.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.ports {
		if p.HasAddress(a) {
			return true
		}
	}
	return false
}

func (r *Router) process(_ Port, pkt *protocol.IPPacket) {
	dst := pkt.Destination()
	if r.ownAddress(dst) {
		return
	}
	route, ok := r.table.Lookup(dst)
	if !ok {
		r.stats.Drop("no_route")
		slog.Debug("no route", "node", r.stats.Name, "dst", dst)
		return
	}
	if pkt.TTL() <= 1 {
		r.stats.Drop("ttl")
		return
	}
	out, err := pkt.WithTTL(pkt.TTL() - 1)
	if err != nil {
		r.stats.Drop("malformed")
		slog.Warn("failed to rewrite packet", "node", r.stats.Name, "error", err)
		return
	}
	hop := route.NextHop
	if !hop.IsValid() {
		hop = dst
	}
	route.Iface.Send(out, hop)
	r.stats.Forward(metrics.ModeRoute, 1)
}

// Close detaches the router from its ports.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	ports := r.ports
	r.ports = nil
	r.mu.Unlock()
	for _, p := range ports {
		p.RemoveListener(r.listener)
	}
	return nil
}
