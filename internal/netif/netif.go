// Package netif defines network interfaces: ports that send packets, hold
// addresses and notify listeners of incoming traffic.
package netif

import "firestige.xyz/fabric/internal/core"

// Listener observes packets arriving on an interface.
//
// Listeners are compared by identity on registration and removal, so
// implementations should be comparable (typically pointers). A listener
// whose value is not comparable, such as a struct holding a slice, is
// registered every time it is added and only ClearListeners drops it.
type Listener[A core.Address, P core.Packet[A]] interface {
	OnIncomingPacket(ni Interface[A, P], pkt P)
}

// ListenerFunc adapts a function to Listener. Use NewListener so each
// adapter has its own identity.
type ListenerFunc[A core.Address, P core.Packet[A]] struct {
	fn func(ni Interface[A, P], pkt P)
}

// NewListener wraps fn as a Listener.
func NewListener[A core.Address, P core.Packet[A]](fn func(ni Interface[A, P], pkt P)) *ListenerFunc[A, P] {
	return &ListenerFunc[A, P]{fn: fn}
}

func (l *ListenerFunc[A, P]) OnIncomingPacket(ni Interface[A, P], pkt P) {
	l.fn(ni, pkt)
}

// Interface is a port attached to some medium.
type Interface[A core.Address, P core.Packet[A]] interface {
	Name() string

	// Send transmits pkt. A non-zero nextHop restricts delivery to the
	// neighbours holding that address. Sent packets are also reported to
	// the promiscuous listeners of the sending interface.
	Send(pkt P, nextHop A)

	// AddListener registers l for packets addressed to this interface.
	AddListener(l Listener[A, P])
	RemoveListener(l Listener[A, P])

	// AddPromiscuousListener registers l for every packet seen by this
	// interface, incoming or outgoing, regardless of destination.
	AddPromiscuousListener(l Listener[A, P])
	RemovePromiscuousListener(l Listener[A, P])

	// Address returns the first address, or the zero address.
	Address() A
	Addresses() []A
	HasAddress(a A) bool
	AddAddress(a A)
	RemoveAddress(a A)

	Close() error
}
