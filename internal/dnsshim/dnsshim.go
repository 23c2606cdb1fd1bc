// Package dnsshim wraps net.Resolver to satisfy the engine.Resolver
// contract (SPEC_FULL.md §4.6). Go's resolver has no cancellable
// in-flight-lookup primitive that lwIP's dns_gethostbyname exposes, so
// outstanding lookups are left to run to completion on their own
// goroutine and post their result to a channel that the single event-loop
// thread drains once per second, never touching engine or conntable state
// from the lookup goroutine itself.
package dnsshim

import (
	"context"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/ocproxy/internal/engine"
)

// lookupTimeout bounds a single goroutine-per-lookup; spec.md does not fix
// a value, so this follows the resolve.conf default most systems ship.
const lookupTimeout = 5 * time.Second

type result struct {
	addr net.IP
	cb   func(addr net.IP)
}

// Shim is the concrete engine.Resolver.
type Shim struct {
	resolver *net.Resolver
	done     chan result
}

// New builds a Shim backed by Go's default resolver (cgo or pure-Go,
// whichever the build was made with, matching net.DefaultResolver's own
// behavior).
func New() *Shim {
	return &Shim{
		resolver: net.DefaultResolver,
		done:     make(chan result, 64),
	}
}

// Resolve implements engine.Resolver. A literal IPv4/IPv6 address resolves
// synchronously (DNSOK); anything else starts a goroutine and returns
// DNSInProgress immediately, matching dns_gethostbyname's contract.
func (s *Shim) Resolve(name string, cb func(addr net.IP)) (engine.DNSStatus, net.IP) {
	if ip := net.ParseIP(name); ip != nil {
		return engine.DNSOK, ip
	}

	go s.lookup(name, cb)
	return engine.DNSInProgress, nil
}

func (s *Shim) lookup(name string, cb func(addr net.IP)) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()

	addrs, err := s.resolver.LookupIPAddr(ctx, name)
	if err != nil || len(addrs) == 0 {
		logrus.WithError(err).WithField("name", name).Debug("dnsshim: lookup failed")
		s.done <- result{addr: nil, cb: cb}
		return
	}

	var v4 net.IP
	for _, a := range addrs {
		if ip4 := a.IP.To4(); ip4 != nil {
			v4 = ip4
			break
		}
	}
	s.done <- result{addr: v4, cb: cb}
}

// Tick implements engine.Resolver: drains every lookup that has completed
// since the last call and invokes its callback on the caller's goroutine,
// which is always the single event-loop thread (spec.md §4.8's 1s DNS
// timer).
func (s *Shim) Tick() {
	for {
		select {
		case r := <-s.done:
			r.cb(r.addr)
		default:
			return
		}
	}
}
