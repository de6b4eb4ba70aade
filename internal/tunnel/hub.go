// Package tunnel carries Ethernet frames over UDP. A Hub (or its learning
// variant, Switch) joins every endpoint that contacts it into one virtual
// LAN; an Interface is the client side of such a tunnel.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/protocol"
)

const (
	// DefaultPort is the UDP port a hub listens on by default.
	DefaultPort = 7002
	// DefaultMaxEndpoints bounds the hub membership by default.
	DefaultMaxEndpoints = 32

	// PingType is the ethertype of keep-alive frames. They register the
	// sender but are never forwarded.
	PingType layers.EthernetType = 0

	maxDatagram = 65535
)

// Config configures a hub or switch.
type Config struct {
	// Name labels the hub in logs and metrics; the listen address if empty.
	Name string
	// Listen is the UDP address to bind, ":7002" if empty.
	Listen string
	// MaxEndpoints bounds the membership. Zero or less means unbounded.
	MaxEndpoints int
	// Tap, if set, sees every data frame before it is forwarded. It runs on
	// the receive loop.
	Tap func(src netip.AddrPort, frame *protocol.EthPacket)
}

// Hub floods every frame it receives to all other known endpoints.
//
// Endpoints are learned from inbound traffic. When the hub is full the
// oldest registered endpoint is evicted, whether or not it is still active.
type Hub struct {
	name string
	conn *net.UDPConn
	max  int

	mu        sync.Mutex
	endpoints []netip.AddrPort

	tap     func(src netip.AddrPort, frame *protocol.EthPacket)
	forward func(src netip.AddrPort, frame *protocol.EthPacket)
	onEvict func(ep netip.AddrPort)

	stats   *metrics.Node
	closing atomic.Bool
	stop    func() bool
	done    chan struct{}
	err     error
}

// NewHub binds the hub socket and starts serving. The hub is closed when
// ctx is done.
func NewHub(ctx context.Context, cfg Config) (*Hub, error) {
	h, err := newHub(cfg)
	if err != nil {
		return nil, err
	}
	h.start(ctx)
	return h, nil
}

func newHub(cfg Config) (*Hub, error) {
	listen := cfg.Listen
	if listen == "" {
		listen = fmt.Sprintf(":%d", DefaultPort)
	}
	laddr, err := net.ResolveUDPAddr("udp", listen)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", listen, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}
	name := cfg.Name
	if name == "" {
		name = conn.LocalAddr().String()
	}
	h := &Hub{
		name:  name,
		conn:  conn,
		max:   cfg.MaxEndpoints,
		tap:   cfg.Tap,
		stats: metrics.NewNode(name),
		done:  make(chan struct{}),
	}
	h.forward = h.flood
	return h, nil
}

func (h *Hub) start(ctx context.Context) {
	slog.Info("tunnel hub started", "hub", h.name, "addr", h.Addr(), "max_endpoints", h.max)
	metrics.TunnelEndpoints.WithLabelValues(h.name).Set(0)
	h.stop = context.AfterFunc(ctx, func() { _ = h.Close() })
	go h.serve()
}

// Name returns the hub name used in logs and metrics.
func (h *Hub) Name() string {
	return h.name
}

// Addr returns the bound UDP address.
func (h *Hub) Addr() netip.AddrPort {
	return h.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Stats returns the forwarding counters.
func (h *Hub) Stats() *metrics.Node {
	return h.stats
}

// Endpoints returns the current membership, oldest first.
func (h *Hub) Endpoints() []netip.AddrPort {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.endpoints)
}

func (h *Hub) serve() {
	defer close(h.done)
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := h.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if h.closing.Load() || errors.Is(err, net.ErrClosed) {
				slog.Info("tunnel hub stopped", "hub", h.name)
				return
			}
			h.err = fmt.Errorf("tunnel hub %s: %w", h.name, err)
			slog.Error("tunnel hub receive failed", "hub", h.name, "error", err)
			return
		}
		src = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
		h.handle(src, buf[:n])
	}
}

func (h *Hub) handle(src netip.AddrPort, data []byte) {
	frame, err := protocol.ParseEthPacket(data)
	if err != nil {
		h.stats.Malformed.Add(1)
		metrics.TunnelMalformedTotal.WithLabelValues(h.name).Inc()
		slog.Warn("malformed datagram", "hub", h.name, "endpoint", src, "error", err)
		return
	}
	h.register(src)
	if frame.Type() == PingType {
		slog.Debug("ping", "hub", h.name, "endpoint", src)
		return
	}
	if h.tap != nil {
		h.tap(src, frame)
	}
	h.forward(src, frame)
}

func (h *Hub) register(ep netip.AddrPort) {
	h.mu.Lock()
	if slices.Contains(h.endpoints, ep) {
		h.mu.Unlock()
		return
	}
	var evicted netip.AddrPort
	if h.max > 0 && len(h.endpoints) >= h.max {
		evicted = h.endpoints[0]
		h.endpoints = slices.Delete(h.endpoints, 0, 1)
	}
	h.endpoints = append(h.endpoints, ep)
	size := len(h.endpoints)
	h.mu.Unlock()

	metrics.TunnelEndpoints.WithLabelValues(h.name).Set(float64(size))
	slog.Info("new endpoint", "hub", h.name, "endpoint", ep, "endpoints", size)
	if evicted.IsValid() {
		metrics.TunnelEvictionsTotal.WithLabelValues(h.name).Inc()
		slog.Info("hub full, endpoint disconnected", "hub", h.name, "endpoint", evicted, "max_endpoints", h.max)
		if h.onEvict != nil {
			h.onEvict(evicted)
		}
	}
}

// flood sends the frame to every endpoint but src.
func (h *Hub) flood(src netip.AddrPort, frame *protocol.EthPacket) {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, ep := range h.endpoints {
		if ep == src {
			continue
		}
		if h.send(ep, frame) {
			n++
		}
	}
	h.stats.Forward(metrics.ModeFlood, n)
}

func (h *Hub) send(ep netip.AddrPort, frame *protocol.EthPacket) bool {
	if _, err := h.conn.WriteToUDPAddrPort(frame.Bytes(), ep); err != nil {
		slog.Warn("failed to send datagram", "hub", h.name, "endpoint", ep, "error", err)
		return false
	}
	return true
}

// Close stops the hub and waits for its receive loop to return.
func (h *Hub) Close() error {
	if h.closing.Swap(true) {
		<-h.done
		return nil
	}
	if h.stop != nil {
		h.stop()
	}
	err := h.conn.Close()
	<-h.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Wait blocks until the hub stops. It returns nil after Close and the
// receive error otherwise.
func (h *Hub) Wait() error {
	<-h.done
	return h.err
}
