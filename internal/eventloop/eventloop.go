// Package eventloop implements the single-threaded coordination core of
// SPEC_FULL.md §5: one goroutine owns the TCP/IP engine, the connection
// table, and every slot's state; every blocking syscall (accept, VPN fd
// read, DNS lookup) runs on a helper goroutine that communicates back over
// a channel. The central Run loop is a reflect.Select fan-in because the
// set of per-connection readiness channels grows and shrinks as slots are
// acquired and released — no third-party dynamic-channel-select library
// exists in the retrieved corpus, so this one case falls back to the
// standard library's reflect package (see DESIGN.md).
package eventloop

import (
	"net"
	"os"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/ocproxy/internal/conntable"
	"github.com/simeonmiteff/ocproxy/internal/datapump"
	"github.com/simeonmiteff/ocproxy/internal/dnsshim"
	"github.com/simeonmiteff/ocproxy/internal/engine"
	"github.com/simeonmiteff/ocproxy/internal/listener"
	"github.com/simeonmiteff/ocproxy/internal/pbuf"
	"github.com/simeonmiteff/ocproxy/internal/socks5"
	"github.com/simeonmiteff/ocproxy/internal/sockmetrics"
	"github.com/simeonmiteff/ocproxy/internal/timers"
	"github.com/simeonmiteff/ocproxy/internal/vpnendpoint"
)

// VPN is the subset of vpnendpoint.Endpoint the loop depends on.
type VPN interface {
	WritePacket(buf *pbuf.Buffer) error
	// Probe detects a torn-down tunnel between datagrams, polled from the
	// housekeeping tick (SPEC_FULL.md §4.8).
	Probe() error
	// LinkStats returns a snapshot of the link counters for the SIGUSR1
	// dump.
	LinkStats() vpnendpoint.Stats
}

// Loop owns every piece of mutable state in the process. Nothing outside
// Run (and the helper goroutines it explicitly starts) ever touches
// engine, table, or slot fields.
type Loop struct {
	vpn      VPN
	stack    engine.Stack
	table    *conntable.Table
	resolver *dnsshim.Shim
	metrics  *sockmetrics.Registry

	accepted chan listener.Accepted
	vpnIn    chan *pbuf.Buffer
	stop     chan struct{}

	keepalive time.Duration

	slotConns map[*conntable.Slot]*slotState
}

// slotState is the event-loop-private bookkeeping for one live slot; it
// is never touched from any goroutine but the loop itself.
type slotState struct {
	local  net.Conn // sockmetrics-wrapped local TCP connection
	engine engine.Conn

	s5       *socks5.Parser // non-nil only while a SOCKS5 handshake is in progress
	pumpUp   *datapump.Pump // local -> upstream, via an engine.Conn sink
	pumpDown *datapump.Pump // upstream -> local, via a local-socket sink

	// readStop is closed once when the slot tears down, to unblock
	// readLocalForever's WaitReady wait without leaking that goroutine.
	readStop chan struct{}
	stopOnce sync.Once
}

func newSlotState(local net.Conn) *slotState {
	return &slotState{local: local, readStop: make(chan struct{})}
}

// stopReads unblocks readLocalForever's back-pressure wait. Safe to call
// from any goroutine, any number of times.
func (st *slotState) stopReads() {
	st.stopOnce.Do(func() { close(st.readStop) })
}

// New builds a Loop. vpn, stack, table, resolver and metrics must already
// be constructed; New only wires the channels between them. keepalive is
// the TCP keepalive idle/probe interval applied to every upstream
// connection once established (0 disables keepalive).
func New(vpn VPN, stack engine.Stack, table *conntable.Table, resolver *dnsshim.Shim, metrics *sockmetrics.Registry, keepalive time.Duration) *Loop {
	l := &Loop{
		vpn:       vpn,
		stack:     stack,
		table:     table,
		resolver:  resolver,
		metrics:   metrics,
		accepted:  make(chan listener.Accepted, 64),
		vpnIn:     make(chan *pbuf.Buffer, 64),
		stop:      make(chan struct{}),
		keepalive: keepalive,
		slotConns: make(map[*conntable.Slot]*slotState),
	}
	stack.SetOutboundHandler(l.onOutbound)
	return l
}

// AcceptChan is handed to listener.Listen as the channel accepted
// connections are posted to.
func (l *Loop) AcceptChan() chan<- listener.Accepted {
	return l.accepted
}

// VPNInChan is handed to vpnendpoint.Endpoint.Run as the channel decoded
// inbound datagrams are posted to.
func (l *Loop) VPNInChan() chan<- *pbuf.Buffer {
	return l.vpnIn
}

func (l *Loop) onOutbound(datagram []byte) {
	buf, err := pbuf.NewFromBytes(datagram, pbuf.Raw)
	if err != nil {
		return
	}
	if err := l.vpn.WritePacket(buf); err != nil {
		logrus.WithError(err).Warn("eventloop: vpn write failed")
	}
}

// Run is the central select loop. It returns when stop fires or a signal
// requests shutdown.
func (l *Loop) Run(tset *timers.Set, sig <-chan os.Signal) {
	for {
		cases, conns := l.buildSelectCases(tset, sig)
		chosen, recv, _ := reflect.Select(cases)

		switch chosen {
		case 0: // l.accepted
			a := recv.Interface().(listener.Accepted)
			l.handleAccept(a)
		case 1: // l.vpnIn
			buf := recv.Interface().(*pbuf.Buffer)
			l.stack.InjectInbound(flatten(buf))
		case 2: // tset.TCP.C
			l.stack.Tick()
			l.retryBlockedPumps()
		case 3: // tset.DNS.C
			l.resolver.Tick()
		case 4: // tset.Housekeeping.C
			if !l.housekeeping() {
				return
			}
		case 5: // sig
			s := recv.Interface().(os.Signal)
			if s == syscall.SIGUSR1 {
				l.dumpStats()
				continue
			}
			return
		default:
			slot := conns[chosen-6]
			l.slotConns[slot].engine.Process()
		}
	}
}

func (l *Loop) buildSelectCases(tset *timers.Set, sig <-chan os.Signal) ([]reflect.SelectCase, []*conntable.Slot) {
	cases := []reflect.SelectCase{
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(l.accepted)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(l.vpnIn)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(tset.TCP.C)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(tset.DNS.C)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(tset.Housekeeping.C)},
		{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sig)},
	}
	var slots []*conntable.Slot
	for slot, st := range l.slotConns {
		if st.engine == nil {
			continue
		}
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(st.engine.Notify()),
		})
		slots = append(slots, slot)
	}
	return cases, slots
}

func flatten(buf *pbuf.Buffer) []byte {
	out := make([]byte, buf.Len())
	buf.CopyOut(0, out)
	buf.Release()
	return out
}

func (l *Loop) retryBlockedPumps() {
	for _, st := range l.slotConns {
		if st.pumpUp != nil {
			st.pumpUp.Retry()
		}
		if st.pumpDown != nil {
			st.pumpDown.Retry()
		}
	}
}

// housekeeping runs on the 1s housekeeping tick (SPEC_FULL.md §4.8). It
// probes the VPN tunnel for a torn-down peer and reports whether Run
// should keep looping; it returns false once the peer is confirmed gone,
// so the process exits gracefully instead of spinning on a dead tunnel.
func (l *Loop) housekeeping() bool {
	if err := l.vpn.Probe(); err != nil {
		logrus.WithError(err).Info("eventloop: vpn peer is gone, shutting down")
		return false
	}
	l.table.Each(func(s *conntable.Slot) {
		// liveness/idle scanning hook; concrete policy is intentionally
		// minimal (spec.md leaves timeout tuning to the operator).
		_ = s
	})
	return true
}

// dumpStats logs the link and connection-table counters on SIGUSR1,
// without otherwise disturbing the running process.
func (l *Loop) dumpStats() {
	stats := l.vpn.LinkStats()
	logrus.WithFields(logrus.Fields{
		"packetsIn":  stats.PacketsIn,
		"packetsOut": stats.PacketsOut,
		"bytesIn":    stats.BytesIn,
		"bytesOut":   stats.BytesOut,
		"slotsInUse": l.table.InUse(),
		"slotsCap":   l.table.Cap(),
	}).Info("eventloop: stats dump (SIGUSR1)")
}

func (l *Loop) handleAccept(a listener.Accepted) {
	slot, err := l.table.Acquire()
	if err != nil {
		logrus.WithError(err).Warn("eventloop: connection table full, dropping accept")
		a.Conn.Close()
		return
	}

	name := "socks5"
	if a.Forward != nil {
		name = "redir"
	}
	local := a.Conn
	if l.metrics != nil {
		local = l.metrics.Wrap(a.Conn, name, slot.ID())
	}
	logrus.WithFields(logrus.Fields{"slot": slot.ID(), "corrID": slot.CorrelationID(), "listener": name}).Debug("eventloop: accepted connection")

	st := newSlotState(local)
	l.slotConns[slot] = st

	if a.Forward != nil {
		l.table.SetState(slot, conntable.StateConnecting)
		l.dialUpstream(slot, st, net.JoinHostPort(a.Forward.Host, itoa(a.Forward.Port)))
		return
	}

	st.s5 = socks5.NewParser()
	l.table.SetState(slot, conntable.StateResolving)
	go l.pumpSocksGreeting(slot, st)
}

// releaseSlot tears down a slot's bookkeeping and returns it to the table.
// Safe to call from any goroutine; unblocks any goroutine parked in
// readLocalForever's WaitReady wait.
func (l *Loop) releaseSlot(slot *conntable.Slot, st *slotState) {
	st.stopReads()
	l.table.Release(slot)
}

// pumpSocksGreeting reads the SOCKS5 handshake bytes off the accepted
// connection on its own goroutine (a blocking net.Conn.Read), since the
// event loop thread must never block. Once the request is parsed, this
// goroutine itself starts resolution or dialUpstream; bytes that arrive in
// the same Read after the CONNECT request are not forwarded.
func (l *Loop) pumpSocksGreeting(slot *conntable.Slot, st *slotState) {
	buf := make([]byte, 512)
	for st.s5.Stage() != socks5.StageDone && st.s5.Stage() != socks5.StageError {
		n, err := st.local.Read(buf)
		if err != nil {
			st.local.Close()
			l.releaseSlot(slot, st)
			return
		}
		consumed := 0
		for consumed < n && st.s5.Stage() != socks5.StageDone && st.s5.Stage() != socks5.StageError {
			before := st.s5.Stage()
			consumed += st.s5.Feed(buf[consumed:n])
			after := st.s5.Stage()
			if before < socks5.StageRequestHeader && after >= socks5.StageRequestHeader && after != socks5.StageError {
				// the greeting just completed within this Feed call,
				// however much of the buffer was consumed to get there;
				// reply now, before the CONNECT request is parsed, since
				// a single Read may have delivered the whole handshake.
				st.local.Write(socks5.GreetingReply())
			}
		}
	}
	if st.s5.Stage() == socks5.StageError {
		switch st.s5.FailKind() {
		case socks5.FailUnsupportedCommand:
			st.local.Write(socks5.Reply(socks5.ReplyCommandNotSupported, [4]byte{}, 0))
		case socks5.FailUnsupportedAddrType:
			st.local.Write(socks5.Reply(socks5.ReplyAddrNotSupported, [4]byte{}, 0))
		default: // FailMalformed: spec.md §6.3, close without a reply
		}
		st.local.Close()
		l.releaseSlot(slot, st)
		return
	}

	target := st.s5.Target()
	if target.IsIP {
		ip := net.IP(target.IP[:])
		l.dialUpstream(slot, st, net.JoinHostPort(ip.String(), itoa(target.Port)))
		return
	}

	l.table.MarkAwaitingDNS(slot)
	status, addr := l.resolver.Resolve(target.Domain, func(resolved net.IP) {
		l.table.DNSCallbackDone(slot)
		if slot.State() == conntable.StateDead {
			l.releaseSlot(slot, st)
			return
		}
		if resolved == nil {
			st.local.Write(socks5.Reply(socks5.ReplyHostUnreachable, [4]byte{}, 0))
			st.local.Close()
			l.releaseSlot(slot, st)
			return
		}
		l.dialUpstream(slot, st, net.JoinHostPort(resolved.String(), itoa(target.Port)))
	})
	switch status {
	case engine.DNSOK:
		l.table.DNSCallbackDone(slot)
		l.dialUpstream(slot, st, net.JoinHostPort(addr.String(), itoa(target.Port)))
	case engine.DNSInProgress:
		// the callback above clears the awaiting-DNS mark
	case engine.DNSBadName:
		l.table.DNSCallbackDone(slot)
		st.local.Write(socks5.Reply(socks5.ReplyHostUnreachable, [4]byte{}, 0))
		st.local.Close()
		l.releaseSlot(slot, st)
	}
}

// dialUpstream opens the TCP/IP engine connection to the resolved target.
// Dialing itself is non-blocking from the engine's perspective (Connect
// returns immediately; completion arrives via the established/failed
// callbacks processed from Notify on the event-loop thread).
func (l *Loop) dialUpstream(slot *conntable.Slot, st *slotState, hostport string) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		st.local.Close()
		l.releaseSlot(slot, st)
		return
	}
	ip := net.ParseIP(host)
	if ip == nil {
		st.local.Close()
		l.releaseSlot(slot, st)
		return
	}
	var port uint16
	for _, c := range portStr {
		port = port*10 + uint16(c-'0')
	}

	conn, err := l.stack.NewConn()
	if err != nil {
		st.local.Close()
		l.releaseSlot(slot, st)
		return
	}
	st.engine = conn

	err = conn.Connect(ip, port, func() {
		l.onUpstreamEstablished(slot, st)
	}, func(connErr error) {
		logrus.WithError(connErr).Debug("eventloop: upstream connect failed")
		if st.s5 != nil {
			st.local.Write(socks5.Reply(socks5.ReplyConnRefused, [4]byte{}, 0))
		}
		st.local.Close()
		conn.Close()
		l.releaseSlot(slot, st)
	})
	if err != nil {
		st.local.Close()
		l.releaseSlot(slot, st)
		return
	}
	l.table.SetState(slot, conntable.StateConnecting)
}

func (l *Loop) onUpstreamEstablished(slot *conntable.Slot, st *slotState) {
	l.table.SetState(slot, conntable.StateEstablished)

	if st.s5 != nil {
		bndIP, bndPort := st.engine.LocalAddr()
		var ipArr [4]byte
		copy(ipArr[:], bndIP.To4())
		st.local.Write(socks5.Reply(socks5.ReplyOK, ipArr, bndPort))
	}

	if l.keepalive > 0 {
		st.engine.SetKeepalive(l.keepalive, l.keepalive)
	}

	st.pumpUp = datapump.New("local->upstream", datapump.NewEngineSink(st.engine))
	st.pumpDown = datapump.New("upstream->local", datapump.NewSocketSink(st.local))
	st.engine.OnRecv(st.pumpDown.Feed)
	st.engine.OnSent(st.pumpUp.OnSent)
	st.engine.DisableNagle()

	go l.readLocalForever(slot, st)
}

// readLocalForever performs the blocking reads off the local accepted
// connection on its own goroutine, feeding each chunk to the upstream
// pump. It gates each Read behind pumpUp.WaitReady so a stalled upstream
// send buffer stops this goroutine from reading unboundedly ahead of what
// the engine can accept (spec.md §4.7/§8), rather than buffering without
// limit. It exits once the local connection errors, is closed by the
// engine side, or the slot tears down; when it exits because the local
// read failed, it releases the slot.
func (l *Loop) readLocalForever(slot *conntable.Slot, st *slotState) {
	buf := make([]byte, 16*1024)
	for {
		if !st.pumpUp.WaitReady(st.readStop) {
			return
		}
		n, err := st.local.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			st.pumpUp.Feed(localChain(chunk))
		}
		if err != nil {
			st.pumpUp.Feed(nil)
			l.releaseSlot(slot, st)
			return
		}
	}
}

type localChain []byte

func (c localChain) Len() int                        { return len(c) }
func (c localChain) CopyOut(off int, dst []byte) int { return copy(dst, c[off:]) }

func itoa(n uint16) string {
	if n == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// MetricsHandler returns prometheus.DefaultGatherer, the registry that
// promhttp.Handler serves; cmd/ocproxy mounts promhttp.Handler directly.
func MetricsHandler() prometheus.Gatherer {
	return prometheus.DefaultGatherer
}
