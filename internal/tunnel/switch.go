package tunnel

import (
	"context"
	"net/netip"
	"time"

	"firestige.xyz/fabric/internal/bridge"
	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/protocol"
)

// Switch is a hub that learns which endpoint each MAC address sits behind
// and unicasts frames to known, unexpired destinations.
type Switch struct {
	*Hub
	table *bridge.Table[protocol.MAC, netip.AddrPort]
}

// SwitchConfig configures a Switch.
type SwitchConfig struct {
	Config
	// Expiration is the learning window, bridge.DefaultExpiration if zero.
	Expiration time.Duration
	// Now is the table clock, time.Now if nil.
	Now func() time.Time
}

// NewSwitch binds the switch socket and starts serving. The switch is
// closed when ctx is done.
func NewSwitch(ctx context.Context, cfg SwitchConfig) (*Switch, error) {
	h, err := newHub(cfg.Config)
	if err != nil {
		return nil, err
	}
	s := &Switch{
		Hub:   h,
		table: bridge.NewTable[protocol.MAC, netip.AddrPort](h.name, cfg.Expiration, cfg.Now),
	}
	h.forward = s.process
	h.onEvict = s.forget
	h.start(ctx)
	return s, nil
}

// Table exposes the switching table.
func (s *Switch) Table() *bridge.Table[protocol.MAC, netip.AddrPort] {
	return s.table
}

func (s *Switch) process(src netip.AddrPort, frame *protocol.EthPacket) {
	s.table.Learn(frame.Source(), src)
	dst := frame.Destination()
	if dst.IsMulticast() {
		s.flood(src, frame)
		return
	}
	ep, ok := s.table.Lookup(dst)
	if !ok {
		s.flood(src, frame)
		return
	}
	if ep == src {
		s.stats.Drop("local")
		return
	}
	s.mu.Lock()
	sent := s.send(ep, frame)
	s.mu.Unlock()
	if sent {
		s.stats.Forward(metrics.ModeUnicast, 1)
	}
}

func (s *Switch) forget(ep netip.AddrPort) {
	s.table.ForgetFunc(func(v netip.AddrPort) bool { return v == ep })
}

// Close stops the switch and clears its table.
func (s *Switch) Close() error {
	err := s.Hub.Close()
	s.table.Clear()
	return err
}
