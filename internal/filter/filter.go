// Package filter evaluates tcpdump-style predicates over the decoded layers
// of a packet.
//
// A filter is an immutable tree of Match values. Leaves test one layer of
// the onion and are false when that layer is absent.
package filter

import (
	"firestige.xyz/fabric/internal/protocol"
)

// Match is a predicate over the layers of a packet, outermost first.
type Match interface {
	Match(o protocol.Onion) bool
}

// MatchFunc adapts a function to Match.
type MatchFunc func(o protocol.Onion) bool

func (f MatchFunc) Match(o protocol.Onion) bool { return f(o) }

// Packet decodes pkt and evaluates m against it.
func Packet(m Match, pkt protocol.Encoded) bool {
	return m.Match(protocol.Explore(pkt))
}

type all struct{}

func (all) Match(protocol.Onion) bool { return true }
func (all) String() string            { return "all" }

// All matches every packet.
var All Match = all{}

type and []Match

// And matches when every child matches. Evaluation stops at the first
// child that does not. An empty And matches everything.
func And(ms ...Match) Match {
	return and(ms)
}

func (a and) Match(o protocol.Onion) bool {
	for _, m := range a {
		if !m.Match(o) {
			return false
		}
	}
	return true
}

type or []Match

// Or matches when any child matches. Evaluation stops at the first child
// that does. An empty Or matches nothing.
func Or(ms ...Match) Match {
	return or(ms)
}

func (x or) Match(o protocol.Onion) bool {
	for _, m := range x {
		if m.Match(o) {
			return true
		}
	}
	return false
}

type not struct{ m Match }

// Not inverts m.
func Not(m Match) Match {
	return not{m}
}

func (n not) Match(o protocol.Onion) bool {
	return !n.m.Match(o)
}
