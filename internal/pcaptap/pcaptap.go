// Package pcaptap implements the optional debug tap of SPEC_FULL.md §4.10:
// every IP datagram seen at the synthetic netif is written, pcap-compatible,
// to a per-run capture file. Purely observational; never affects behavior.
package pcaptap

import (
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Writer taps packets to a pcap file opened for the lifetime of the run.
type Writer struct {
	file *os.File
	w    *pcapgo.Writer
}

// Open creates (truncating) the capture file at path and writes the pcap
// header for raw IPv4 link-layer framing.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeIPv4); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{file: f, w: w}, nil
}

// Write appends one datagram to the capture. The outbound flag is recorded
// only implicitly, via capture order; pcap has no native direction field
// for a raw-IP link type, matching how a tun/tap capture would look.
func (t *Writer) Write(data []byte, outbound bool) {
	if t == nil {
		return
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(data),
		Length:        len(data),
	}
	_ = t.w.WritePacket(ci, data)
}

// Close flushes and closes the capture file.
func (t *Writer) Close() error {
	if t == nil {
		return nil
	}
	return t.file.Close()
}
