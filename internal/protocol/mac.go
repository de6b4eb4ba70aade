// Package protocol adapts gopacket's codecs to the core Packet and Address
// capabilities, and decodes packets into their nested layers.
package protocol

import (
	"fmt"
	"net"
)

// MAC is an Ethernet hardware address.
type MAC [6]byte

// Broadcast is the all-ones Ethernet address.
var Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// ParseMAC parses a 48-bit hardware address in any form accepted by net.ParseMAC.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	return macOf(hw)
}

func macOf(hw net.HardwareAddr) (MAC, error) {
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("hardware address %v is not 48 bits", hw)
	}
	return MAC(hw), nil
}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is ff:ff:ff:ff:ff:ff.
func (m MAC) IsBroadcast() bool {
	return m == Broadcast
}

// IsMulticast reports whether the group bit of m is set. Broadcast is a
// multicast address.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 == 0x01
}

// HWAddr returns m as a net.HardwareAddr.
func (m MAC) HWAddr() net.HardwareAddr {
	return net.HardwareAddr(m[:])
}
