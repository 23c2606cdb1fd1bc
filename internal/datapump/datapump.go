// Package datapump implements the bidirectional byte-shuttling of
// SPEC_FULL.md §4.7 between a slot's local socket leg and its upstream
// engine.Conn leg. Both legs run the identical Pump shape in opposite
// directions; back-pressure is explicit, never a blocking call, so a full
// send buffer on one side stalls only that direction until the next retry
// tick or OnSent callback.
package datapump

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/ocproxy/internal/engine"
	"github.com/simeonmiteff/ocproxy/internal/pbuf"
)

// Sink is the write side a Pump drains toward. Both proxy directions
// satisfy it: NewEngineSink wraps the engine.Conn leg, NewSocketSink wraps
// the local net.Conn leg, so one Pump implementation serves both instead
// of the event loop hand-rolling a second, socket-specific writer.
type Sink interface {
	// Write hands as much of data to the sink as it can accept right now
	// without blocking the caller. wrote is always valid; blocked==true
	// means the remainder should be retried later (send buffer full, or
	// the underlying socket write would have blocked).
	Write(data []byte) (wrote int, blocked bool, err error)
	// Close half-closes or closes the sink once the source has hit EOF
	// and every pending byte has drained.
	Close() error
}

// ReadyChecker is an optional Sink capability letting a Pump skip a Write
// call it already knows would-block, rather than discovering that only
// after attempting it.
type ReadyChecker interface {
	Ready() bool
}

// connSink adapts an engine.Conn (the VPN-facing TCP/IP engine leg) to
// Sink. Writes are all-or-nothing per the engine.Conn contract.
type connSink struct {
	conn engine.Conn
}

// NewEngineSink wraps an engine.Conn for use as a Pump's destination.
func NewEngineSink(dst engine.Conn) Sink {
	return &connSink{conn: dst}
}

func (s *connSink) Write(data []byte) (int, bool, error) {
	status, err := s.conn.Write(data, true)
	if err != nil {
		return 0, false, err
	}
	switch status {
	case engine.WriteOK:
		if err := s.conn.Output(); err != nil {
			return 0, false, err
		}
		return len(data), false, nil
	default: // WriteWouldBlock, WriteOutOfMemory
		return 0, true, nil
	}
}

func (s *connSink) Ready() bool {
	return s.conn.SndBuf() > 0
}

func (s *connSink) Close() error {
	return s.conn.Close()
}

// socketSink adapts a local, blocking net.Conn to Sink using a write
// deadline one millisecond out, then a Timeout check, for a near
// non-blocking write attempt on a connection that otherwise has no
// non-blocking API, grounded on gosocksv5d's copyFrom/Write retry loop.
type socketSink struct {
	conn net.Conn
}

// NewSocketSink wraps a local net.Conn (the accepted SOCKS5/redirect
// client connection) for use as a Pump's destination.
func NewSocketSink(conn net.Conn) Sink {
	return &socketSink{conn: conn}
}

func (s *socketSink) Write(data []byte) (int, bool, error) {
	// A deadline of exactly time.Now() has already expired by the time
	// Write runs, so Write would fail with 0 bytes written every time.
	_ = s.conn.SetWriteDeadline(time.Now().Add(time.Millisecond))
	n, err := s.conn.Write(data)
	if err == nil {
		return n, false, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return n, true, nil
	}
	return n, false, err
}

func (s *socketSink) Close() error {
	return s.conn.Close()
}

// Pump moves bytes received on a source into sink, holding whatever the
// source delivers that the sink can't yet accept. It mirrors spec.md's
// done_len/lwip_blocked bookkeeping: Feed never blocks, and a short write
// leaves the remainder queued for the next Retry or OnSent.
type Pump struct {
	name string // "local->upstream" or "upstream->local", for logging only
	sink Sink

	mu      sync.Mutex
	pending *pbuf.Buffer // unsent remainder from the most recent Feed
	blocked bool
	eof     bool
	resume  chan struct{} // signalled whenever blocked transitions to false
}

// New builds a Pump that writes whatever it's fed toward sink.
func New(name string, sink Sink) *Pump {
	return &Pump{name: name, sink: sink, resume: make(chan struct{}, 1)}
}

// Feed is called from the source's receive callback (engine.Conn.OnRecv
// for the upstream leg, or a local-read goroutine for the socket leg).
// chain == nil means the source hit EOF; the pump remembers this and
// closes sink once any pending bytes drain.
func (p *Pump) Feed(chain engine.RecvChain) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if chain == nil {
		p.eof = true
		p.tryFlushLocked()
		return
	}

	scratch := make([]byte, chain.Len())
	chain.CopyOut(0, scratch)
	buf, err := pbuf.NewFromBytes(scratch, pbuf.Pool)
	if err != nil {
		return
	}

	if p.pending == nil {
		p.pending = buf
	} else {
		p.pending.Append(buf)
	}
	p.tryFlushLocked()
}

// Retry is called from the 250ms TCP tick (spec.md §4.8) to re-attempt a
// write that previously would-blocked.
func (p *Pump) Retry() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blocked {
		p.tryFlushLocked()
	}
}

// OnSent is the sink's sent callback; once the engine reports room, the
// pump immediately retries rather than waiting for the next tick.
func (p *Pump) OnSent(acked int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tryFlushLocked()
}

// WaitReady blocks until the pump is not currently back-pressured, or
// stop fires. A goroutine feeding reads from a blocking source (the local
// socket) calls this before each Read so it doesn't keep piling bytes
// into pending indefinitely while the destination can't drain them
// (spec.md §4.7/§8). It returns false if stop fired first.
func (p *Pump) WaitReady(stop <-chan struct{}) bool {
	for {
		p.mu.Lock()
		blocked := p.blocked
		p.mu.Unlock()
		if !blocked {
			return true
		}
		select {
		case <-p.resume:
		case <-stop:
			return false
		}
	}
}

// Blocked reports whether the pump is currently waiting on the sink, for
// the housekeeping dump.
func (p *Pump) Blocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blocked
}

// tryFlushLocked must be called with p.mu held.
func (p *Pump) tryFlushLocked() {
	for p.pending != nil && p.pending.Len() > 0 {
		if rc, ok := p.sink.(ReadyChecker); ok && !rc.Ready() {
			p.blocked = true
			return
		}

		total := p.pending.Len()
		data := make([]byte, total)
		p.pending.CopyOut(0, data)

		wrote, blocked, err := p.sink.Write(data)
		if err != nil {
			logrus.WithError(err).WithField("pump", p.name).Debug("datapump: write error")
			p.pending.Release()
			p.pending = nil
			p.blocked = false
			return
		}

		switch {
		case wrote == total:
			p.pending.Release()
			p.pending = nil
		case wrote > 0:
			head, rest, splitErr := p.pending.Split(wrote)
			if splitErr != nil {
				p.pending.Release()
				p.pending = nil
				p.blocked = false
				return
			}
			head.Release()
			p.pending.Release()
			p.pending = rest
		}

		if blocked || wrote == 0 {
			p.blocked = true
			return
		}
	}

	wasBlocked := p.blocked
	p.blocked = false

	if p.pending == nil && p.eof {
		_ = p.sink.Close()
	}

	if wasBlocked {
		select {
		case p.resume <- struct{}{}:
		default:
		}
	}
}
