package pcap

import (
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/fabric/internal/core"
	"firestige.xyz/fabric/internal/protocol"
)

// Record is one captured packet. Data holds the captured bytes; OrigLen is
// the length of the packet on the wire, never less than len(Data).
type Record struct {
	TsSec    uint32
	TsUsec   uint32
	OrigLen  uint32
	Data     []byte
	LinkType layers.LinkType
}

// NewRecord returns a complete record of data taken at ts.
func NewRecord(linkType layers.LinkType, ts time.Time, data []byte) *Record {
	r := &Record{OrigLen: uint32(len(data)), Data: data, LinkType: linkType}
	r.SetTimestamp(ts)
	return r
}

// CapLen returns the captured length.
func (r *Record) CapLen() uint32 {
	return uint32(len(r.Data))
}

// HasOriginalPacket reports whether the whole packet was captured.
func (r *Record) HasOriginalPacket() bool {
	return r.CapLen() == r.OrigLen
}

// Timestamp returns the capture time.
func (r *Record) Timestamp() time.Time {
	return time.Unix(int64(r.TsSec), int64(r.TsUsec)*int64(time.Microsecond))
}

// SetTimestamp stores ts with microsecond precision.
func (r *Record) SetTimestamp(ts time.Time) {
	r.TsSec = uint32(ts.Unix())
	r.TsUsec = uint32(ts.Nanosecond() / 1000)
}

// CaptureInfo returns the gopacket view of the record metadata.
func (r *Record) CaptureInfo() gopacket.CaptureInfo {
	return gopacket.CaptureInfo{
		Timestamp:     r.Timestamp(),
		CaptureLength: len(r.Data),
		Length:        int(r.OrigLen),
	}
}

// Packet rebuilds the packet carried by the record: an *protocol.EthPacket
// for Ethernet captures, an *protocol.IPPacket for raw IP ones. It fails
// with core.ErrReconstruct on truncated records and other link types.
func (r *Record) Packet() (protocol.Encoded, error) {
	if !r.HasOriginalPacket() {
		return nil, fmt.Errorf("%w: %s record truncated to %d of %d bytes", core.ErrReconstruct, r.LinkType, r.CapLen(), r.OrigLen)
	}
	var (
		pkt protocol.Encoded
		err error
	)
	switch r.LinkType {
	case layers.LinkTypeEthernet:
		pkt, err = protocol.ParseEthPacket(r.Data)
	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		pkt, err = protocol.ParseIPPacket(r.Data)
	default:
		return nil, fmt.Errorf("%w: unsupported link type %s", core.ErrReconstruct, r.LinkType)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s record: %w", core.ErrReconstruct, r.LinkType, err)
	}
	return pkt, nil
}

// Layers decodes the captured bytes, truncated or not, into their layers.
func (r *Record) Layers() protocol.Onion {
	first := layers.LayerTypeEthernet
	switch r.LinkType {
	case layers.LinkTypeIPv4:
		first = layers.LayerTypeIPv4
	case layers.LinkTypeIPv6:
		first = layers.LayerTypeIPv6
	case layers.LinkTypeRaw:
		first = layers.LayerTypeIPv4
		if len(r.Data) > 0 && r.Data[0]>>4 == 6 {
			first = layers.LayerTypeIPv6
		}
	}
	return protocol.ExploreBytes(r.Data, first)
}
