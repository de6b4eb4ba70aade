// Package core defines sentinel errors.
package core

import "errors"

var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("fabric: packet too short")
	ErrUnsupportedProto = errors.New("fabric: unsupported protocol")

	// Capture file errors
	ErrTruncated        = errors.New("fabric: truncated capture record")
	ErrCorruptRecord    = errors.New("fabric: corrupt capture record")
	ErrBadMagic         = errors.New("fabric: not a pcap file")
	ErrLinkTypeMismatch = errors.New("fabric: incompatible record link type")
	ErrReconstruct      = errors.New("fabric: unable to reconstruct packet")
	ErrUnknownLinkType  = errors.New("fabric: unable to guess link type")

	// Forwarding errors
	ErrNoRoute         = errors.New("fabric: no route")
	ErrListenerFailure = errors.New("fabric: listener failure")

	// Lifecycle errors
	ErrClosed = errors.New("fabric: closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("fabric: invalid configuration")
)
