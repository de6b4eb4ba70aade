package pcap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/fabric/internal/core"
)

// maxRecordLen bounds the captured length of any record, whatever snap
// length the file announces. It is libpcap's own ceiling.
const maxRecordLen = 256 * 1024

// Reader decodes records from a capture stream.
type Reader struct {
	pr     *pcapgo.Reader
	closer io.Closer
	hdr    Header
}

// NewReader reads the global header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(HeaderLen)
	order := byteOrder(head)

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("file header: %w", core.ErrTruncated)
		case order == nil && !gzipped(head):
			return nil, fmt.Errorf("%w: %w", core.ErrBadMagic, err)
		}
		return nil, fmt.Errorf("file header: %w", err)
	}

	hdr := Header{
		VersionMajor: VersionMajor,
		VersionMinor: VersionMinor,
		SnapLen:      pr.Snaplen(),
		LinkType:     pr.LinkType(),
	}
	if order != nil && len(head) == HeaderLen {
		hdr.ThisZone = int32(order.Uint32(head[8:12]))
		hdr.SigFigs = order.Uint32(head[12:16])
	}
	// The announced snap length is not trusted for allocation.
	pr.SetSnaplen(maxRecordLen)
	return &Reader{pr: pr, hdr: hdr}, nil
}

func gzipped(head []byte) bool {
	return len(head) >= 2 && head[0] == 0x1f && head[1] == 0x8b
}

// OpenFile opens the capture file at path.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// Header returns the global header of the stream.
func (r *Reader) Header() Header {
	return r.hdr
}

// LinkType returns the link type of every record in the stream.
func (r *Reader) LinkType() layers.LinkType {
	return r.hdr.LinkType
}

// Read returns the next record. It returns io.EOF at the end of the
// stream and an error wrapping core.ErrTruncated if the stream ends inside
// a record.
func (r *Reader) Read() (*Record, error) {
	data, ci, err := r.pr.ReadPacketData()
	if err != nil {
		return nil, recordError(ci, err)
	}
	rec := &Record{OrigLen: uint32(ci.Length), Data: data, LinkType: r.hdr.LinkType}
	rec.SetTimestamp(ci.Timestamp)
	return rec, nil
}

// ReadInto reads the next record into rec, reusing its Data buffer. If rec
// already names a link type, it must match the stream's.
func (r *Reader) ReadInto(rec *Record) error {
	if rec.LinkType != 0 && rec.LinkType != r.hdr.LinkType {
		return fmt.Errorf("%w: want %s, stream has %s", core.ErrLinkTypeMismatch, rec.LinkType, r.hdr.LinkType)
	}
	data, ci, err := r.pr.ZeroCopyReadPacketData()
	if err != nil {
		return recordError(ci, err)
	}
	rec.LinkType = r.hdr.LinkType
	rec.OrigLen = uint32(ci.Length)
	rec.Data = append(rec.Data[:0], data...)
	rec.SetTimestamp(ci.Timestamp)
	return nil
}

// recordError maps a pcapgo record failure onto the package errors. A
// zero timestamp in ci means the record header itself was not read.
func recordError(ci gopacket.CaptureInfo, err error) error {
	if ci.Timestamp.IsZero() {
		switch {
		case err == io.EOF:
			return io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("record header: %w", core.ErrTruncated)
		}
		return err
	}
	switch {
	case ci.CaptureLength > maxRecordLen:
		return fmt.Errorf("captured length %d exceeds %d: %w", ci.CaptureLength, maxRecordLen, core.ErrCorruptRecord)
	case ci.Length < ci.CaptureLength:
		return fmt.Errorf("original length %d below captured length %d: %w", ci.Length, ci.CaptureLength, core.ErrCorruptRecord)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("record payload of %d bytes: %w", ci.CaptureLength, core.ErrTruncated)
	}
	return err
}

// All iterates over the remaining records. Iteration stops after the
// first error, which is yielded unless it is io.EOF.
func (r *Reader) All() iter.Seq2[*Record, error] {
	return func(yield func(*Record, error) bool) {
		for {
			rec, err := r.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Close closes the underlying file of readers created by OpenFile.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
