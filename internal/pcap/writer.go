package pcap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/fabric/internal/metrics"
	"firestige.xyz/fabric/internal/protocol"
)

// Writer encodes records to a capture stream.
//
// Packets written with Write are stamped against a monotonic clock: the
// first one fixes the epoch, and each timestamp is the wall time at the
// epoch plus the monotonic time elapsed since. Wall clock adjustments
// during the capture do not disturb inter-packet timing.
type Writer struct {
	mu     sync.Mutex
	pw     *pcapgo.Writer
	flush  func() error
	closer io.Closer
	hdr    Header
	name   string
	now    func() time.Time

	started bool
	epoch   time.Time
}

// NewWriter writes hdr to w and returns a Writer for the following records.
func NewWriter(w io.Writer, hdr Header) (*Writer, error) {
	if hdr.SnapLen == 0 {
		hdr.SnapLen = DefaultSnapLen
	}
	hdr.ThisZone, hdr.SigFigs = 0, 0
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(hdr.SnapLen, hdr.LinkType); err != nil {
		return nil, fmt.Errorf("write file header: %w", err)
	}
	return &Writer{pw: pw, hdr: hdr, name: "stream", now: time.Now}, nil
}

// CreateFile creates (or truncates) the capture file at path.
func CreateFile(path string, hdr Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriter(f)
	w, err := NewWriter(bw, hdr)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w.flush = bw.Flush
	w.closer = f
	w.name = path
	return w, nil
}

// Header returns the global header written at the start of the stream.
func (w *Writer) Header() Header {
	return w.hdr
}

// SetClock replaces the clock used by Write.
func (w *Writer) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// Write stamps pkt and appends it as a record, cut to the snap length.
func (w *Writer) Write(pkt protocol.Encoded) error {
	data := pkt.Bytes()
	rec := &Record{OrigLen: uint32(len(data)), Data: data, LinkType: w.hdr.LinkType}
	if uint32(len(data)) > w.hdr.SnapLen {
		rec.Data = data[:w.hdr.SnapLen]
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if !w.started {
		w.started = true
		w.epoch = now
	}
	rec.SetTimestamp(w.epoch.Add(now.Sub(w.epoch)))
	return w.writeRecord(rec)
}

// WriteRecord appends rec as is.
func (w *Writer) WriteRecord(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecord(rec)
}

func (w *Writer) writeRecord(rec *Record) error {
	if rec.OrigLen < rec.CapLen() {
		return fmt.Errorf("original length %d below captured length %d", rec.OrigLen, rec.CapLen())
	}
	if err := w.pw.WritePacket(rec.CaptureInfo(), rec.Data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	metrics.PcapRecordsTotal.WithLabelValues(w.name).Inc()
	return nil
}

// Flush writes buffered records to the file of writers created by
// CreateFile.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.flush == nil {
		return nil
	}
	return w.flush()
}

// Close flushes and closes the file of writers created by CreateFile.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closer == nil {
		return nil
	}
	var err error
	if w.flush != nil {
		err = w.flush()
	}
	err = errors.Join(err, w.closer.Close())
	w.closer, w.flush = nil, nil
	return err
}
