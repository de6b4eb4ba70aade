// Package link models a shared medium: every interface attached to a Link
// sees the packets sent by the others.
package link

import (
	"errors"
	"slices"
	"sync"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/netif"
)

// Link is a broadcast segment connecting any number of interfaces.
type Link[A core.Address, P core.Packet[A]] struct {
	mu     sync.RWMutex
	ifaces []*Interface[A, P]
}

// New returns an empty link.
func New[A core.Address, P core.Packet[A]]() *Link[A, P] {
	return &Link[A, P]{}
}

// NewInterface attaches a new interface holding addrs to the link.
func (l *Link[A, P]) NewInterface(addrs ...A) *Interface[A, P] {
	ni := &Interface[A, P]{Base: netif.NewBase[A, P](addrs...), link: l}
	l.mu.Lock()
	l.ifaces = append(l.ifaces, ni)
	l.mu.Unlock()
	return ni
}

// NewPromiscuousInterface attaches an interface that holds every address:
// it receives all traffic on the link, ahead of the regular interfaces.
func (l *Link[A, P]) NewPromiscuousInterface() *Interface[A, P] {
	ni := &Interface[A, P]{Base: netif.NewBase[A, P](), link: l, promiscuous: true}
	l.mu.Lock()
	l.ifaces = slices.Insert(l.ifaces, 0, ni)
	l.mu.Unlock()
	return ni
}

// Interfaces returns the attached interfaces in delivery order.
func (l *Link[A, P]) Interfaces() []*Interface[A, P] {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.ifaces)
}

// NumInterfaces returns the number of attached interfaces.
func (l *Link[A, P]) NumInterfaces() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ifaces)
}

// FindAddress returns the first regular interface holding a.
func (l *Link[A, P]) FindAddress(a A) (*Interface[A, P], bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, ni := range l.ifaces {
		if !ni.promiscuous && ni.HasAddress(a) {
			return ni, true
		}
	}
	return nil, false
}

// Transmit delivers pkt to every interface except src. A non-zero nextHop
// limits delivery to the interfaces holding it, and such a delivery counts
// as addressed to the receiver whatever the packet destination. The
// returned error joins the listener failures raised on the receiving side.
func (l *Link[A, P]) Transmit(pkt P, src *Interface[A, P], nextHop A) error {
	l.mu.RLock()
	targets := slices.Clone(l.ifaces)
	l.mu.RUnlock()

	hinted := !core.IsZero(nextHop)
	var errs []error
	for _, ni := range targets {
		if ni == src {
			continue
		}
		if hinted && !ni.HasAddress(nextHop) {
			continue
		}
		if err := ni.receive(pkt, hinted); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Link[A, P]) detach(ni *Interface[A, P]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ifaces = slices.DeleteFunc(l.ifaces, func(x *Interface[A, P]) bool { return x == ni })
}

// Interface is an interface attached to a Link.
type Interface[A core.Address, P core.Packet[A]] struct {
	*netif.Base[A, P]
	link        *Link[A, P]
	promiscuous bool
	closeOnce   sync.Once
}

// Link returns the medium ni is attached to.
func (ni *Interface[A, P]) Link() *Link[A, P] {
	return ni.link
}

// Promiscuous reports whether ni receives every packet on its link.
func (ni *Interface[A, P]) Promiscuous() bool {
	return ni.promiscuous
}

func (ni *Interface[A, P]) HasAddress(a A) bool {
	return ni.promiscuous || ni.Base.HasAddress(a)
}

// Send reports pkt to the promiscuous listeners of ni, then puts it on the
// link.
func (ni *Interface[A, P]) Send(pkt P, nextHop A) {
	_ = ni.DeliverOutgoing(ni, pkt)
	_ = ni.link.Transmit(pkt, ni, nextHop)
}

func (ni *Interface[A, P]) receive(pkt P, addressed bool) error {
	if ni.promiscuous || addressed {
		return ni.DeliverAll(ni, pkt)
	}
	return ni.DeliverIncoming(ni, pkt)
}

// Close detaches ni from its link and drops its listeners.
func (ni *Interface[A, P]) Close() error {
	ni.closeOnce.Do(func() {
		ni.link.detach(ni)
		ni.ClearListeners()
	})
	return nil
}
