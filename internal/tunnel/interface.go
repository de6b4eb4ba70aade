package tunnel

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/protocol"
)

// Ping is the keep-alive frame sent to the remote end of a tunnel.
var Ping = protocol.NewEthPacket(protocol.Broadcast, protocol.Broadcast, PingType, nil)

// Interface is an Ethernet interface tunnelled over UDP to a remote
// endpoint, typically a Hub or Switch.
type Interface struct {
	*netif.Base[protocol.MAC, *protocol.EthPacket]
	conn *net.UDPConn

	mu     sync.RWMutex
	remote netip.AddrPort

	closeOnce sync.Once
	done      chan struct{}
}

// NewInterface binds local (any port if empty) and tunnels to remote. If
// remote is the zero value it is learned from the first datagram received;
// otherwise the remote is pinged right away so that it registers us. addrs
// are the MAC addresses of the interface; without any it accepts every
// frame.
func NewInterface(local string, remote netip.AddrPort, addrs ...protocol.MAC) (*Interface, error) {
	if local == "" {
		local = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", local, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", local, err)
	}
	ni := &Interface{
		Base:   netif.NewBase[protocol.MAC, *protocol.EthPacket](addrs...),
		conn:   conn,
		remote: remote,
		done:   make(chan struct{}),
	}
	go ni.serve()
	if remote.IsValid() {
		if err := ni.Ping(); err != nil {
			slog.Warn("tunnel ping failed", "iface", ni.Name(), "endpoint", remote, "error", err)
		}
	}
	return ni, nil
}

// LocalAddr returns the bound UDP address.
func (ni *Interface) LocalAddr() netip.AddrPort {
	return ni.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Remote returns the remote endpoint, or the zero value if not known yet.
func (ni *Interface) Remote() netip.AddrPort {
	ni.mu.RLock()
	defer ni.mu.RUnlock()
	return ni.remote
}

// Ping sends a keep-alive frame to the remote endpoint.
func (ni *Interface) Ping() error {
	return ni.write(Ping.Bytes())
}

// Send tunnels pkt to the remote endpoint. Frames are dropped while the
// remote is unknown.
func (ni *Interface) Send(pkt *protocol.EthPacket, _ protocol.MAC) {
	if err := ni.write(pkt.Bytes()); err != nil {
		slog.Debug("tunnel send failed", "iface", ni.Name(), "error", err)
	}
	_ = ni.DeliverOutgoing(ni, pkt)
}

func (ni *Interface) write(b []byte) error {
	remote := ni.Remote()
	if !remote.IsValid() {
		return fmt.Errorf("no remote endpoint: %w", core.ErrNoRoute)
	}
	_, err := ni.conn.WriteToUDPAddrPort(b, remote)
	return err
}

func (ni *Interface) serve() {
	defer close(ni.done)
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := ni.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				slog.Error("tunnel receive failed", "iface", ni.Name(), "error", err)
			}
			return
		}
		frame, err := protocol.ParseEthPacket(slices.Clone(buf[:n]))
		if err != nil {
			slog.Warn("malformed datagram", "iface", ni.Name(), "endpoint", src, "error", err)
			continue
		}
		ni.mu.Lock()
		if !ni.remote.IsValid() {
			ni.remote = netip.AddrPortFrom(src.Addr().Unmap(), src.Port())
			slog.Info("tunnel remote learned", "iface", ni.Name(), "endpoint", ni.remote)
		}
		ni.mu.Unlock()
		if frame.Type() == PingType {
			continue
		}
		_ = ni.DeliverIncoming(ni, frame)
	}
}

// Close drops the listeners, closes the socket and waits for the receive
// loop to return.
func (ni *Interface) Close() error {
	var err error
	ni.closeOnce.Do(func() {
		ni.ClearListeners()
		err = ni.conn.Close()
	})
	<-ni.done
	return err
}
