// Package engine names the TCP/IP engine contract consumed by ocproxy
// (SPEC_FULL.md §4.2). It is treated as an external collaborator: the
// engine owns congestion control, retransmission and reassembly. The sole
// concrete implementation, internal/engine/gvisorstack, adapts
// gvisor.dev/gvisor's userspace network stack to this contract.
package engine

import (
	"net"
	"time"
)

// WriteStatus mirrors lwIP's tri-state tcp_write result.
type WriteStatus int

const (
	WriteOK WriteStatus = iota
	WriteWouldBlock
	WriteOutOfMemory
)

// RecvChain is handed to a connection's receive callback. A nil chain
// signals EOF, matching spec.md §4.7's recv_cb(null) convention. Len/CopyOut
// mirror pbuf.Buffer's read-only surface so the data pump does not need to
// import a concrete pbuf type here.
type RecvChain interface {
	Len() int
	CopyOut(off int, dst []byte) int
}

// Conn is one TCP connection's engine-side handle: the analogue of an
// lwIP tcp_pcb (spec.md §4.2).
type Conn interface {
	// Connect issues an active open to addr:port. established is called
	// exactly once on success; failed is called exactly once on failure
	// (including later async errors), never both.
	Connect(addr net.IP, port uint16, established func(), failed func(err error)) error

	// OnRecv registers the receive callback. chain == nil means EOF.
	OnRecv(cb func(chain RecvChain))
	// OnSent registers the callback invoked once previously written bytes
	// are acknowledged by the remote peer (spec.md §4.7's sent_cb).
	OnSent(cb func(acked int))

	// Write attempts to hand len(data) bytes to the engine's send buffer.
	// The copy flag mirrors lwIP's TCP_WRITE_FLAG_COPY: true means the
	// engine must copy data out before returning, since the caller's
	// buffer is reused immediately.
	Write(data []byte, copy bool) (WriteStatus, error)
	// Output flushes any buffered unsent segments toward the network
	// immediately rather than waiting for the engine's own Nagle/ack
	// timer, per spec.md's sequencing rule ("tcp_output is called at
	// least once after B2 before returning to the event loop").
	Output() error
	// SndBuf reports remaining send-buffer capacity in bytes.
	SndBuf() int
	// Recved acknowledges n bytes of previously delivered receive data,
	// releasing engine-side receive window.
	Recved(n int)

	// LocalAddr reports the bound local address/port once connected,
	// used for the SOCKS5 "ok" reply's BND.ADDR/BND.PORT (spec.md §4.5).
	LocalAddr() (net.IP, uint16)

	// SetKeepalive enables TCP keepalive with the given idle time and
	// probe interval (spec.md §4.2, §5; units are whatever the adapter's
	// engine expects — gvisorstack takes time.Duration and converts).
	SetKeepalive(idle, interval time.Duration)
	// DisableNagle mirrors tcp_nagle_disable: interactive proxy traffic
	// should not wait to coalesce small writes.
	DisableNagle()

	// Close detaches and closes the connection (tcp_arg(nil); tcp_close).
	Close() error

	// Notify returns the channel the event loop selects on to learn that
	// this connection has become readable, writable, or errored. It never
	// closes while the Conn is open. This is the Go-native rendition of
	// lwIP's callback-on-the-single-thread model: the channel is the
	// "readiness" signal, and Process is where the thread that owns all
	// engine state actually runs the callbacks.
	Notify() <-chan struct{}
	// Process is called by the event loop exactly once per Notify firing;
	// it inspects the connection's
	// actual state and invokes at most one of the registered
	// established/failed/OnRecv/OnSent callbacks.
	Process()
}

// DNSStatus mirrors dns_gethostbyname's tri-state return.
type DNSStatus int

const (
	DNSOK DNSStatus = iota
	DNSInProgress
	DNSBadName
)

// Resolver is the DNS shim's dependency on a name resolution backend
// (spec.md §4.6); internal/dnsshim is the concrete implementation.
type Resolver interface {
	// Resolve starts (or completes synchronously from cache) resolution
	// of name. On DNSInProgress, cb is invoked exactly once later with
	// the resolved address, or nil on failure. On DNSOK, addr is valid
	// immediately and cb is never called. On DNSBadName neither addr nor
	// a later cb call occurs.
	Resolve(name string, cb func(addr net.IP)) (DNSStatus, net.IP)
	// Tick drains completed asynchronous lookups and invokes their
	// callbacks; called from the 1s DNS timer (spec.md §4.8).
	Tick()
}

// Stack is the synthetic network interface plus TCP connection factory
// (spec.md §3's "Synthetic Network Interface", §4.2's tcp_new/netif_add).
type Stack interface {
	// NewConn allocates a fresh, unconnected Conn (tcp_new + tcp_arg).
	NewConn() (Conn, error)
	// InjectInbound hands one IP datagram read from the VPN to the
	// engine for demultiplexing (the netif receive hook of spec.md §3).
	InjectInbound(datagram []byte)
	// SetOutboundHandler registers the callback invoked once per IP
	// datagram the engine wants written to the VPN (the netif send
	// callback of spec.md §3).
	SetOutboundHandler(cb func(datagram []byte))
	// Tick drives the engine's internal TCP timers (tcp_tmr, spec.md
	// §4.8); a no-op for engines that self-schedule, but always safe to
	// call once per 250ms from the single event-loop thread.
	Tick()
}
