package offline

import (
	"fmt"
	"os"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"

	"github.com/hardaker/mercury/internal/frame"
)

// DefaultSnapLen matches the original writer's fixed snaplen; it is a file
// header field only, not an enforced truncation limit on writes.
const DefaultSnapLen = 65535

// Writer writes frames to a classic-format pcap file via pcapgo, which
// implements the same global/record header layout the Reader parses by
// hand; using it here for writing is safe because the write path has no
// truncation or byte-swap semantics to pin down.
type Writer struct {
	f  *os.File
	w  *pcapgo.Writer
	n  uint64
	nb uint64
}

// Create opens path for writing and emits the global pcap header.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("offline: create %s: %w", path, err)
	}

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(DefaultSnapLen, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return nil, fmt.Errorf("offline: write pcap header for %s: %w", path, err)
	}

	return &Writer{f: f, w: w}, nil
}

// WritePacket appends one record built from info/l2.
func (w *Writer) WritePacket(info frame.Info, l2 []byte) error {
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(info.TvSec, info.TvNsec),
		CaptureLength: len(l2),
		Length:        int(info.Len),
	}
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}

	if err := w.w.WritePacket(ci, l2); err != nil {
		return fmt.Errorf("offline: write packet: %w", err)
	}

	w.n++
	w.nb += uint64(len(l2))
	return nil
}

// PacketsWritten returns the count of records written so far.
func (w *Writer) PacketsWritten() uint64 { return w.n }

// BytesWritten returns the cumulative payload bytes written so far,
// excluding headers.
func (w *Writer) BytesWritten() uint64 { return w.nb }

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}

// AsHandler adapts a Writer into a frame.Handler, so it can be wired
// directly as a worker's output sink.
func (w *Writer) AsHandler() frame.Handler {
	return frame.HandlerFunc(func(info frame.Info, l2 []byte) {
		_ = w.WritePacket(info, l2)
	})
}
