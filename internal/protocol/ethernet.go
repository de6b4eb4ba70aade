package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/core"
)

// EthernetHeaderLen is the length of an untagged Ethernet header.
const EthernetHeaderLen = 14

// EthPacket is an Ethernet frame.
type EthPacket struct {
	src, dst  MAC
	etherType layers.EthernetType
	data      []byte
}

// NewEthPacket builds a frame carrying payload. Frames shorter than the
// Ethernet minimum are zero padded to 60 bytes.
func NewEthPacket(src, dst MAC, etherType layers.EthernetType, payload []byte) *EthPacket {
	buf := gopacket.NewSerializeBuffer()
	eth := &layers.Ethernet{
		SrcMAC:       src.HWAddr(),
		DstMAC:       dst.HWAddr(),
		EthernetType: etherType,
	}
	// Both MACs are 6 bytes, the only failure SerializeTo reports.
	_ = gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(payload))
	return &EthPacket{src: src, dst: dst, etherType: etherType, data: buf.Bytes()}
}

// ParseEthPacket reads the Ethernet header of data. The ethertype is taken
// verbatim, values below 0x0600 included.
func ParseEthPacket(data []byte) (*EthPacket, error) {
	if len(data) < EthernetHeaderLen {
		return nil, fmt.Errorf("ethernet frame of %d bytes: %w", len(data), core.ErrPacketTooShort)
	}
	p := &EthPacket{
		etherType: layers.EthernetType(binary.BigEndian.Uint16(data[12:14])),
		data:      data,
	}
	copy(p.dst[:], data[0:6])
	copy(p.src[:], data[6:12])
	return p, nil
}

func (p *EthPacket) Source() MAC                    { return p.src }
func (p *EthPacket) Destination() MAC               { return p.dst }
func (p *EthPacket) Bytes() []byte                  { return p.data }
func (p *EthPacket) Type() layers.EthernetType      { return p.etherType }
func (p *EthPacket) Payload() []byte                { return p.data[EthernetHeaderLen:] }
func (p *EthPacket) FirstLayer() gopacket.LayerType { return layers.LayerTypeEthernet }

func (p *EthPacket) String() string {
	return fmt.Sprintf("ETH %v > %v type 0x%04x len %d", p.src, p.dst, uint16(p.etherType), len(p.data))
}
