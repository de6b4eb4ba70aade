package bridge

import (
	"firestige.xyz/fabric/internal/netif"
	"firestige.xyz/fabric/internal/protocol"
)

// EthPort is an Ethernet interface.
type EthPort = netif.Interface[protocol.MAC, *protocol.EthPacket]

// NewHub returns an Ethernet repeater over ports.
func NewHub(cfg Config, ports ...EthPort) *Repeater[protocol.MAC, *protocol.EthPacket] {
	return NewRepeater(cfg, ports...)
}

// NewSwitch returns a learning Ethernet bridge over ports.
func NewSwitch(cfg Config, ports ...EthPort) *Bridge[protocol.MAC, *protocol.EthPacket] {
	return New(cfg, ports...)
}
