// Package sniffer taps interfaces in promiscuous mode and hands every
// observed packet to a sink, without altering delivery.
package sniffer

import (
	"errors"
	"io"
	"sync"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/link"
	"firestige.xyz/fabric/internal/netif"
)

// Sink consumes the packets seen by a Sniffer.
type Sink[A core.Address, P core.Packet[A]] interface {
	ProcessPacket(ni netif.Interface[A, P], pkt P)
}

// SinkFunc adapts a function to Sink.
type SinkFunc[A core.Address, P core.Packet[A]] func(ni netif.Interface[A, P], pkt P)

func (f SinkFunc[A, P]) ProcessPacket(ni netif.Interface[A, P], pkt P) { f(ni, pkt) }

// Sniffer forwards the traffic of one interface to a sink.
type Sniffer[A core.Address, P core.Packet[A]] struct {
	ni       netif.Interface[A, P]
	owned    bool
	sink     Sink[A, P]
	listener *netif.ListenerFunc[A, P]
	once     sync.Once
}

// New taps ni.
func New[A core.Address, P core.Packet[A]](ni netif.Interface[A, P], sink Sink[A, P]) *Sniffer[A, P] {
	return attach(ni, false, sink)
}

// NewOnLink taps every packet on l through a promiscuous link interface.
func NewOnLink[A core.Address, P core.Packet[A]](l *link.Link[A, P], sink Sink[A, P]) *Sniffer[A, P] {
	return attach[A, P](l.NewPromiscuousInterface(), true, sink)
}

func attach[A core.Address, P core.Packet[A]](ni netif.Interface[A, P], owned bool, sink Sink[A, P]) *Sniffer[A, P] {
	s := &Sniffer[A, P]{ni: ni, owned: owned, sink: sink}
	s.listener = netif.NewListener(sink.ProcessPacket)
	ni.AddPromiscuousListener(s.listener)
	return s
}

// Interface returns the tapped interface.
func (s *Sniffer[A, P]) Interface() netif.Interface[A, P] {
	return s.ni
}

// Close stops the tap. The promiscuous interface created by NewOnLink is
// closed, and so is the sink if it is an io.Closer.
func (s *Sniffer[A, P]) Close() error {
	var errs []error
	s.once.Do(func() {
		s.ni.RemovePromiscuousListener(s.listener)
		if s.owned {
			errs = append(errs, s.ni.Close())
		}
		if c, ok := s.sink.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	})
	return errors.Join(errs...)
}
