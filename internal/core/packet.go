// Package core defines the capabilities every forwarding-capable protocol
// object must satisfy. It has zero external dependencies.
package core

// Address identifies an endpoint within one protocol family (a MAC address,
// an IPv4 or IPv6 address). The zero value means "no address".
type Address interface {
	comparable
	String() string
}

// Packet is an immutable unit of data bound to an address family.
type Packet[A Address] interface {
	Source() A
	Destination() A
	// Bytes returns the serialized packet. Callers must not modify it.
	Bytes() []byte
}

// Multicaster is implemented by address families that have group addresses.
type Multicaster interface {
	IsMulticast() bool
}

// IsZero reports whether a is the zero (absent) address of its family.
func IsZero[A Address](a A) bool {
	var zero A
	return a == zero
}

// IsMulticast reports whether a is a multicast or broadcast address.
// Families without group addresses never are.
func IsMulticast[A Address](a A) bool {
	if m, ok := any(a).(Multicaster); ok {
		return m.IsMulticast()
	}
	return false
}
