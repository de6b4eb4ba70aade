// Package routing implements longest-prefix-match IP routing.
package routing

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
	"sync"

	"github.com/gaissmai/bart"

	"firestige.xyz/fabric/internal/core"
)

// Route sends traffic for Dest through Iface, to NextHop if set.
type Route[N any] struct {
	Dest netip.Prefix
	// Host routes match Dest.Addr() exactly and take priority over every
	// prefix route.
	Host    bool
	NextHop netip.Addr
	Iface   N
}

// HostRoute returns a route for the single address addr.
func HostRoute[N any](addr, nextHop netip.Addr, iface N) Route[N] {
	return Route[N]{Dest: netip.PrefixFrom(addr, addr.BitLen()), Host: true, NextHop: nextHop, Iface: iface}
}

// NetRoute returns a route for the network pfx.
func NetRoute[N any](pfx netip.Prefix, nextHop netip.Addr, iface N) Route[N] {
	return Route[N]{Dest: pfx.Masked(), NextHop: nextHop, Iface: iface}
}

func (r Route[N]) String() string {
	dest := r.Dest.String()
	if r.Host {
		dest = r.Dest.Addr().String()
	}
	hop := "none"
	if r.NextHop.IsValid() {
		hop = r.NextHop.String()
	}
	return fmt.Sprintf("%s\t%s\t%v", dest, hop, r.Iface)
}

// Table is an ordered list of routes. Lookups follow list semantics: the
// first host route for an address wins outright, otherwise the longest
// containing prefix wins and the first inserted breaks ties.
type Table[N any] struct {
	mu     sync.RWMutex
	routes []Route[N]
	hosts  map[netip.Addr]int
	index  *bart.Table[int]
}

// NewTable returns an empty table.
func NewTable[N any]() *Table[N] {
	t := &Table[N]{}
	t.rebuild()
	return t
}

// Add appends r to the table.
func (t *Table[N]) Add(r Route[N]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = append(t.routes, r)
	t.rebuild()
}

// Insert puts r at position i.
func (t *Table[N]) Insert(i int, r Route[N]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	i = min(max(i, 0), len(t.routes))
	t.routes = slices.Insert(t.routes, i, r)
	t.rebuild()
}

// Set replaces every route to r.Dest with r.
func (t *Table[N]) Set(r Route[N]) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = slices.DeleteFunc(t.routes, func(x Route[N]) bool { return x.Dest == r.Dest && x.Host == r.Host })
	t.routes = append(t.routes, r)
	t.rebuild()
}

// Remove deletes the first prefix route to dest and reports whether one
// existed. Host routes are left alone; see RemoveHost.
func (t *Table[N]) Remove(dest netip.Prefix) bool {
	return t.removeFirst(func(x Route[N]) bool { return !x.Host && x.Dest == dest })
}

// RemoveHost deletes the first host route for addr and reports whether
// one existed.
func (t *Table[N]) RemoveHost(addr netip.Addr) bool {
	return t.removeFirst(func(x Route[N]) bool { return x.Host && x.Dest.Addr() == addr })
}

func (t *Table[N]) removeFirst(match func(Route[N]) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := slices.IndexFunc(t.routes, match)
	if i < 0 {
		return false
	}
	t.routes = slices.Delete(t.routes, i, i+1)
	t.rebuild()
	return true
}

// RemoveAll deletes every prefix route to dest.
func (t *Table[N]) RemoveAll(dest netip.Prefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = slices.DeleteFunc(t.routes, func(x Route[N]) bool { return !x.Host && x.Dest == dest })
	t.rebuild()
}

// Clear removes every route.
func (t *Table[N]) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes = nil
	t.rebuild()
}

// Routes returns the routes in table order.
func (t *Table[N]) Routes() []Route[N] {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.routes)
}

func (t *Table[N]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Lookup returns the route selected for addr.
func (t *Table[N]) Lookup(addr netip.Addr) (Route[N], bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.hosts[addr]; ok {
		return t.routes[i], true
	}
	if i, ok := t.index.Lookup(addr); ok {
		return t.routes[i], true
	}
	return Route[N]{}, false
}

// MustLookup is Lookup returning core.ErrNoRoute on a miss.
func (t *Table[N]) MustLookup(addr netip.Addr) (Route[N], error) {
	r, ok := t.Lookup(addr)
	if !ok {
		return r, fmt.Errorf("%w to %s", core.ErrNoRoute, addr)
	}
	return r, nil
}

func (t *Table[N]) String() string {
	var sb strings.Builder
	sb.WriteString("destination\tnext-hop\tinterface\n")
	for _, r := range t.Routes() {
		sb.WriteString(r.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// rebuild must be called with t.mu held.
func (t *Table[N]) rebuild() {
	t.hosts = make(map[netip.Addr]int)
	t.index = &bart.Table[int]{}
	for i, r := range t.routes {
		if r.Host {
			if _, ok := t.hosts[r.Dest.Addr()]; !ok {
				t.hosts[r.Dest.Addr()] = i
			}
			continue
		}
		if _, ok := t.index.Get(r.Dest); !ok {
			t.index.Insert(r.Dest, i)
		}
	}
}
