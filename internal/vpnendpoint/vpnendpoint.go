// Package vpnendpoint owns the inherited VPN file descriptor: one read
// yields exactly one IP datagram, one gathered write sends exactly one IP
// datagram. See SPEC_FULL.md §4.1.
package vpnendpoint

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/simeonmiteff/ocproxy/internal/pbuf"
)

// maxGatherSegments is the cap on scatter/gather write segments from
// SPEC_FULL.md §4.1; a chain longer than this is dropped, never partially
// written.
const maxGatherSegments = 16

// ErrPeerGone is returned by Probe once the VPN client has torn down its
// end of the tunnel.
var ErrPeerGone = errors.New("vpnendpoint: peer is gone")

// Tap is implemented by the debug capture writer (internal/pcaptap). It is
// optional; a nil Tap means tapping is disabled.
type Tap interface {
	Write(data []byte, outbound bool)
}

// Stats are the link counters dumped on SIGUSR1 and exported as metrics.
type Stats struct {
	PacketsIn           uint64
	PacketsOut          uint64
	BytesIn             uint64
	BytesOut            uint64
	TooManySegments     uint64
	ShortWrites         uint64
	WriteErrors         uint64
	MalformedDatagramsIn uint64
}

// Endpoint wraps the VPN fd.
type Endpoint struct {
	file *os.File
	fd   int
	tap  Tap
	mtu  int

	Stats Stats
	// Gone is set once the peer has torn down the tunnel (0-byte read, or
	// ECONNREFUSED/ENOTCONN on write); Run stops on it, and Probe then
	// reports ErrPeerGone to the event loop's housekeeping tick.
	Gone bool
}

// Open builds an Endpoint from the VPNFD environment variable, the
// process-inherited descriptor carrying the raw IP stream.
func Open(mtu int, tap Tap) (*Endpoint, error) {
	raw := os.Getenv("VPNFD")
	if raw == "" {
		return nil, errors.New("vpnendpoint: VPNFD is not set")
	}
	fd, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("vpnendpoint: invalid VPNFD %q: %w", raw, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("vpnendpoint: set nonblocking: %w", err)
	}
	return &Endpoint{
		file: os.NewFile(uintptr(fd), "vpnfd"),
		fd:   fd,
		tap:  tap,
		mtu:  mtu,
	}, nil
}

// FD returns the underlying descriptor, for readiness registration in the
// event loop's poller.
func (e *Endpoint) FD() int {
	return e.fd
}

// Run blocks the calling goroutine polling the VPN fd for readability and
// posting each decoded datagram to out. It is the one goroutine allowed to
// perform a blocking read on the VPN fd; the event-loop thread only ever
// receives from out, never touches e directly while this is running except
// through WritePacket (a distinct syscall, safe to interleave). Run returns
// once e.Gone is observed, stop is closed, or a poll or read fails.
func (e *Endpoint) Run(stop <-chan struct{}, out chan<- *pbuf.Buffer) {
	pfd := []unix.PollFd{{Fd: int32(e.fd), Events: unix.POLLIN}}
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.Poll(pfd, 250)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if n == 0 {
			continue
		}

		buf, err := e.ReadPacket()
		if err != nil {
			return
		}
		if e.Gone {
			return
		}
		if buf == nil {
			continue
		}
		select {
		case out <- buf:
		case <-stop:
			return
		}
	}
}

// ReadPacket performs one read, yielding exactly one IP datagram as a Raw
// pbuf. A 0-byte read sets Gone and returns (nil, nil): the caller (Run)
// checks Gone after every call.
func (e *Endpoint) ReadPacket() (*pbuf.Buffer, error) {
	scratch := make([]byte, e.mtu+header)
	n, err := unix.Read(e.fd, scratch)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return nil, nil
		}
		return nil, fmt.Errorf("vpnendpoint: read: %w", err)
	}
	if n == 0 {
		e.Gone = true
		return nil, nil
	}
	e.Stats.PacketsIn++
	e.Stats.BytesIn += uint64(n)
	if e.tap != nil {
		e.tap.Write(scratch[:n], false)
	}
	buf, err := pbuf.NewFromBytes(scratch[:n], pbuf.Raw)
	if err != nil {
		e.Stats.MalformedDatagramsIn++
		return nil, nil
	}
	return buf, nil
}

// Probe issues a zero-byte write to the VPN fd purely to detect a torn-down
// peer between datagrams, for the housekeeping tick (SPEC_FULL.md §4.8). A
// 0-byte write never carries data and never blocks; ECONNREFUSED/ENOTCONN
// means the client end of the tunnel is gone.
func (e *Endpoint) Probe() error {
	if e.Gone {
		return ErrPeerGone
	}
	_, err := unix.Write(e.fd, nil)
	if err != nil {
		if err == unix.ECONNREFUSED || err == unix.ENOTCONN {
			e.Gone = true
			return ErrPeerGone
		}
		if errors.Is(err, unix.EAGAIN) {
			return nil
		}
		return fmt.Errorf("vpnendpoint: probe: %w", err)
	}
	return nil
}

// LinkStats returns a snapshot of the link counters, for the SIGUSR1 dump
// and the Prometheus exporter.
func (e *Endpoint) LinkStats() Stats {
	return e.Stats
}

// header is generous slack above the configured MTU to accommodate the IP
// header on datagrams the kernel/VPN client may hand us slightly over MTU.
const header = 64

// WritePacket performs one gathered write of the chain. Chains longer than
// 16 segments are dropped (TooManySegments incremented, warning logged) rather than
// partially written, per SPEC_FULL.md §4.1 and §9 ("fallback path is packet
// drop, not copy-fallback").
func (e *Endpoint) WritePacket(buf *pbuf.Buffer) error {
	if buf == nil {
		return nil
	}
	if n := buf.NumSegments(); n > maxGatherSegments {
		e.Stats.TooManySegments++
		logrus.WithField("segments", n).Warn("vpnendpoint: too many segments, dropping packet")
		return nil
	}

	slices := buf.IOSlices()
	if e.tap != nil {
		var flat []byte
		for _, s := range slices {
			flat = append(flat, s...)
		}
		e.tap.Write(flat, true)
	}

	iovecs := make([]unix.Iovec, len(slices))
	total := 0
	for i, s := range slices {
		if len(s) > 0 {
			iovecs[i].SetLen(len(s))
			iovecs[i].Base = &s[0]
		}
		total += len(s)
	}

	n, _, errno := unix.Syscall(unix.SYS_WRITEV, uintptr(e.fd), uintptr(unsafe.Pointer(&iovecs[0])), uintptr(len(iovecs)))
	if errno != 0 {
		if errno == unix.ECONNREFUSED || errno == unix.ENOTCONN {
			e.Gone = true
			return nil
		}
		e.Stats.WriteErrors++
		return fmt.Errorf("vpnendpoint: writev: %w", errno)
	}

	e.Stats.PacketsOut++
	e.Stats.BytesOut += uint64(n)
	if int(n) < total {
		e.Stats.ShortWrites++
	}
	return nil
}

