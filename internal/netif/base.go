package netif

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"reflect"
	"slices"
	"sync"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/metrics"
)

// Base implements the bookkeeping shared by every Interface: name,
// addresses and the two listener sets. Concrete interfaces embed it and
// implement Send and Close.
type Base[A core.Address, P core.Packet[A]] struct {
	mu          sync.RWMutex
	name        string
	addrs       []A
	listeners   []Listener[A, P]
	promiscuous []Listener[A, P]
}

// NewBase returns a Base with a random name and the given addresses.
func NewBase[A core.Address, P core.Packet[A]](addrs ...A) *Base[A, P] {
	b := &Base[A, P]{name: fmt.Sprintf("%08x", rand.Uint32())}
	for _, a := range addrs {
		if !core.IsZero(a) {
			b.addrs = append(b.addrs, a)
		}
	}
	return b
}

func (b *Base[A, P]) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// SetName renames the interface.
func (b *Base[A, P]) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}

func (b *Base[A, P]) AddListener(l Listener[A, P]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.ContainsFunc(b.listeners, sameListener(l)) {
		b.listeners = append(b.listeners, l)
	}
}

func (b *Base[A, P]) RemoveListener(l Listener[A, P]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = slices.DeleteFunc(b.listeners, sameListener(l))
}

func (b *Base[A, P]) AddPromiscuousListener(l Listener[A, P]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.ContainsFunc(b.promiscuous, sameListener(l)) {
		b.promiscuous = append(b.promiscuous, l)
	}
}

func (b *Base[A, P]) RemovePromiscuousListener(l Listener[A, P]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.promiscuous = slices.DeleteFunc(b.promiscuous, sameListener(l))
}

// sameListener returns a predicate matching listeners identical to l.
// A listener whose dynamic value is not comparable matches nothing.
func sameListener[A core.Address, P core.Packet[A]](l Listener[A, P]) func(Listener[A, P]) bool {
	t := reflect.TypeOf(l)
	if t != nil && !reflect.ValueOf(l).Comparable() {
		return func(Listener[A, P]) bool { return false }
	}
	return func(x Listener[A, P]) bool {
		return reflect.TypeOf(x) == t && (t == nil || reflect.ValueOf(x).Comparable()) && x == l
	}
}

// ClearListeners drops both listener sets.
func (b *Base[A, P]) ClearListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = nil
	b.promiscuous = nil
}

func (b *Base[A, P]) Address() A {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.addrs) == 0 {
		var zero A
		return zero
	}
	return b.addrs[0]
}

func (b *Base[A, P]) Addresses() []A {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.addrs)
}

func (b *Base[A, P]) HasAddress(a A) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Contains(b.addrs, a)
}

func (b *Base[A, P]) AddAddress(a A) {
	if core.IsZero(a) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !slices.Contains(b.addrs, a) {
		b.addrs = append(b.addrs, a)
	}
}

func (b *Base[A, P]) RemoveAddress(a A) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addrs = slices.DeleteFunc(b.addrs, func(x A) bool { return x == a })
}

// Accepts reports whether a packet for dst is handed to normal listeners:
// the interface has no address, owns dst, or dst is a group address.
func (b *Base[A, P]) Accepts(dst A) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accepts(dst)
}

func (b *Base[A, P]) accepts(dst A) bool {
	return len(b.addrs) == 0 || slices.Contains(b.addrs, dst) || core.IsMulticast(dst)
}

// DeliverIncoming hands pkt, received by self, to the promiscuous listeners
// and, if Accepts(pkt.Destination()), to the normal listeners. self is the
// embedding interface, passed on to the callbacks.
func (b *Base[A, P]) DeliverIncoming(self Interface[A, P], pkt P) error {
	b.mu.RLock()
	promiscuous := slices.Clone(b.promiscuous)
	var normal []Listener[A, P]
	if b.accepts(pkt.Destination()) {
		normal = slices.Clone(b.listeners)
	}
	b.mu.RUnlock()

	return errors.Join(Dispatch(self, pkt, promiscuous), Dispatch(self, pkt, normal))
}

// DeliverAll hands pkt to both listener sets regardless of destination.
func (b *Base[A, P]) DeliverAll(self Interface[A, P], pkt P) error {
	b.mu.RLock()
	promiscuous := slices.Clone(b.promiscuous)
	normal := slices.Clone(b.listeners)
	b.mu.RUnlock()
	return errors.Join(Dispatch(self, pkt, promiscuous), Dispatch(self, pkt, normal))
}

// DeliverOutgoing reports pkt, sent by self, to the promiscuous listeners.
func (b *Base[A, P]) DeliverOutgoing(self Interface[A, P], pkt P) error {
	b.mu.RLock()
	promiscuous := slices.Clone(b.promiscuous)
	b.mu.RUnlock()
	return Dispatch(self, pkt, promiscuous)
}

// Dispatch invokes every listener in turn. A listener that panics does not
// prevent the others from running: the failure is logged, counted and
// returned as part of the joined error.
func Dispatch[A core.Address, P core.Packet[A]](ni Interface[A, P], pkt P, listeners []Listener[A, P]) error {
	var errs []error
	for _, l := range listeners {
		if err := invoke(ni, pkt, l); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func invoke[A core.Address, P core.Packet[A]](ni Interface[A, P], pkt P, l Listener[A, P]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			name := ni.Name()
			err = fmt.Errorf("%w on %s: %v", core.ErrListenerFailure, name, r)
			metrics.ListenerFailuresTotal.WithLabelValues(name).Inc()
			slog.Error("interface listener failed", "iface", name, "panic", r)
		}
	}()
	l.OnIncomingPacket(ni, pkt)
	return nil
}
