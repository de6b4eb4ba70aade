// Package pcap reads and writes libpcap capture files.
//
// Framing is delegated to gopacket's pcapgo. Files are written
// little-endian with microsecond timestamps, which is what libpcap itself
// produces. On read, both byte orders, nanosecond timestamps and gzipped
// files are accepted.
package pcap

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

const (
	Magic uint32 = 0xa1b2c3d4

	VersionMajor = 2
	VersionMinor = 4

	// DefaultSnapLen is the snap length of new files.
	DefaultSnapLen = 65535

	HeaderLen       = 24
	RecordHeaderLen = 16
)

// Magic numbers of the four flavours pcapgo reads, as they appear when the
// first four bytes are taken little-endian.
const (
	magicNanos        uint32 = 0xa1b23c4d
	magicSwapped      uint32 = 0xd4c3b2a1
	magicNanosSwapped uint32 = 0x4d3cb2a1
)

// Header is the global header at the start of a capture file.
//
// Written files always carry a zero ThisZone and SigFigs.
type Header struct {
	VersionMajor uint16
	VersionMinor uint16
	ThisZone     int32
	SigFigs      uint32
	SnapLen      uint32
	LinkType     layers.LinkType
}

// NewHeader returns a 2.4 header for linkType with the default snap length.
func NewHeader(linkType layers.LinkType) Header {
	return Header{
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		SnapLen:      DefaultSnapLen,
		LinkType:     linkType,
	}
}

// byteOrder returns the byte order announced by the magic at the start of
// head, or nil if head does not start with a known magic.
func byteOrder(head []byte) binary.ByteOrder {
	if len(head) < 4 {
		return nil
	}
	switch binary.LittleEndian.Uint32(head) {
	case Magic, magicNanos:
		return binary.LittleEndian
	case magicSwapped, magicNanosSwapped:
		return binary.BigEndian
	}
	return nil
}
