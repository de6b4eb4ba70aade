package metrics

import "sync/atomic"

// Node holds the forwarding counters of one fabric node. Every increment is
// mirrored to the process-wide Prometheus vectors under the node's name.
type Node struct {
	Name string

	Flooded   atomic.Uint64
	Unicast   atomic.Uint64
	Routed    atomic.Uint64
	Dropped   atomic.Uint64
	Malformed atomic.Uint64
}

// NewNode creates the counters for the node called name.
func NewNode(name string) *Node {
	return &Node{Name: name}
}

// Forward records n packets sent in the given mode.
func (n *Node) Forward(mode string, count int) {
	if count <= 0 {
		return
	}
	switch mode {
	case ModeFlood:
		n.Flooded.Add(uint64(count))
	case ModeUnicast:
		n.Unicast.Add(uint64(count))
	case ModeRoute:
		n.Routed.Add(uint64(count))
	}
	ForwardedPacketsTotal.WithLabelValues(n.Name, mode).Add(float64(count))
}

// Drop records a discarded packet.
func (n *Node) Drop(reason string) {
	n.Dropped.Add(1)
	DroppedPacketsTotal.WithLabelValues(n.Name, reason).Inc()
}

// Reset resets all counters to zero. Prometheus counters are left alone.
func (n *Node) Reset() {
	n.Flooded.Store(0)
	n.Unicast.Store(0)
	n.Routed.Store(0)
	n.Dropped.Store(0)
	n.Malformed.Store(0)
}
