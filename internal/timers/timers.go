// Package timers provides the three periodic drivers of SPEC_FULL.md §4.8:
// a 250ms TCP tick (engine timers plus stalled-write retries), a 1s DNS
// tick (draining completed lookups), and a 1s housekeeping tick (VPN
// liveness probe). All three are plain time.Ticker
// channels the event loop's central select includes as cases; nothing
// here ever touches engine or conntable state itself.
package timers

import "time"

const (
	TCPTickInterval         = 250 * time.Millisecond
	DNSTickInterval         = time.Second
	HousekeepingTickInterval = time.Second
)

// Set bundles the three tickers the event loop selects on.
type Set struct {
	TCP          *time.Ticker
	DNS          *time.Ticker
	Housekeeping *time.Ticker
}

// NewSet starts all three tickers.
func NewSet() *Set {
	return &Set{
		TCP:          time.NewTicker(TCPTickInterval),
		DNS:          time.NewTicker(DNSTickInterval),
		Housekeeping: time.NewTicker(HousekeepingTickInterval),
	}
}

// Stop releases all three tickers' resources.
func (s *Set) Stop() {
	s.TCP.Stop()
	s.DNS.Stop()
	s.Housekeeping.Stop()
}
