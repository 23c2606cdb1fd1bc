// Package conntable implements the fixed-capacity connection slot pool of
// SPEC_FULL.md §4.3. Every proxied TCP connection, whether opened by a
// static port-forward or a SOCKS5 CONNECT, occupies exactly one Slot for
// its lifetime; the pool size bounds total concurrent connections the way
// a fixed pcb array would in an embedded TCP/IP stack.
package conntable

import (
	"errors"
	"sync"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/simeonmiteff/ocproxy/internal/engine"
)

// ErrTableFull is returned by Acquire when every slot is in use.
var ErrTableFull = errors.New("conntable: table full")

// State is a Slot's lifecycle stage.
type State int

const (
	StateFree State = iota
	StateResolving
	StateConnecting
	StateEstablished
	StateDead
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateResolving:
		return "resolving"
	case StateConnecting:
		return "connecting"
	case StateEstablished:
		return "established"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Slot is one proxied connection's engine-table entry (spec.md §4.4's
// "connection table slot"). Acquire and Release reset Client and Upstream
// to nil; the table itself never assigns them.
type Slot struct {
	mu sync.Mutex

	id    int
	state State

	// corrID is a globally unique identifier reassigned every Acquire, so
	// log lines can be correlated across a slot's one lifetime even though
	// its numeric id is reused by the next connection to land in this slot.
	corrID xid.ID

	Client   engine.Conn // the VE-side TCP connection accepted from a listener
	Upstream engine.Conn // the TE-side TCP connection dialed to the real destination

	// awaitingDNS is set while a slot is StateDead but a DNS callback for
	// it is still in flight; the slot is not returned to the free list
	// until that callback fires, so a late resolution never writes into a
	// reused slot (spec.md §4.4's deferred-free rule).
	awaitingDNS bool

	generation uint64
}

// ID returns the slot's stable index, used for log correlation.
func (s *Slot) ID() int {
	return s.id
}

// State reports the slot's current lifecycle stage.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CorrelationID returns the slot's per-connection unique id, for log
// correlation that survives the slot itself being reused.
func (s *Slot) CorrelationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrID.String()
}

// Generation is bumped every time a slot is reused; callers that stash a
// slot pointer across an async boundary (a DNS callback) should also stash
// the generation they observed and compare it on return, to detect reuse.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Table is the fixed-size slot pool. Capacity is set once at construction
// (spec.md §6's --pool-size, default 32) and never grows.
type Table struct {
	mu       sync.Mutex
	slots    []*Slot
	freeList []int
	inUse    int
}

// New builds a table with the given fixed capacity.
func New(capacity int) *Table {
	t := &Table{
		slots:    make([]*Slot, capacity),
		freeList: make([]int, 0, capacity),
	}
	for i := range t.slots {
		t.slots[i] = &Slot{id: i, state: StateFree}
		t.freeList = append(t.freeList, i)
	}
	return t
}

// Cap returns the fixed table capacity.
func (t *Table) Cap() int {
	return len(t.slots)
}

// InUse returns the number of currently occupied slots, for metrics.
func (t *Table) InUse() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inUse
}

// Acquire allocates a free slot and marks it StateResolving, the state
// every new connection starts in regardless of whether it will actually
// need a DNS lookup (a redir connection moves straight to StateConnecting
// on the next call). Returns ErrTableFull if no slot is free.
func (t *Table) Acquire() (*Slot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.freeList) == 0 {
		return nil, ErrTableFull
	}
	idx := t.freeList[len(t.freeList)-1]
	t.freeList = t.freeList[:len(t.freeList)-1]
	t.inUse++

	s := t.slots[idx]
	s.mu.Lock()
	s.id = idx // restores identity after a debug-build scrub
	s.corrID = xid.New()
	s.state = StateResolving
	s.Client = nil
	s.Upstream = nil
	s.awaitingDNS = false
	s.mu.Unlock()
	return s, nil
}

// SetState transitions a slot's lifecycle stage. Transitioning to
// StateDead does not free the slot; call Release for that once any
// in-flight DNS callback has been accounted for.
func (t *Table) SetState(s *Slot, state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// MarkAwaitingDNS records that slot s is dead but a DNS lookup for it is
// still in flight, per spec.md §4.4's deferred-free rule. Release on such
// a slot is refused until DNSCallbackDone clears the flag.
func (t *Table) MarkAwaitingDNS(s *Slot) {
	s.mu.Lock()
	s.awaitingDNS = true
	s.mu.Unlock()
}

// DNSCallbackDone clears the awaiting-DNS flag once the late callback has
// run (whether or not it found anything to do). If the slot was already
// queued for release, the caller should call Release again afterward.
func (t *Table) DNSCallbackDone(s *Slot) {
	s.mu.Lock()
	s.awaitingDNS = false
	s.mu.Unlock()
}

// Release returns a slot to the free list. If a DNS callback is still
// outstanding for this slot, Release is a deferred no-op: the slot stays
// StateDead and out of the free list until DNSCallbackDone runs, at which
// point the caller must call Release again.
func (t *Table) Release(s *Slot) {
	s.mu.Lock()
	if s.awaitingDNS {
		s.state = StateDead
		s.mu.Unlock()
		logrus.WithField("slot", s.id).Debug("conntable: release deferred, DNS callback outstanding")
		return
	}
	if s.state == StateFree {
		s.mu.Unlock()
		return
	}
	s.state = StateFree
	s.Client = nil
	s.Upstream = nil
	s.generation++
	id := s.id
	s.mu.Unlock()

	scrubSlot(s)

	t.mu.Lock()
	t.freeList = append(t.freeList, id)
	t.inUse--
	t.mu.Unlock()
}

// Each iterates live (non-free) slots under the table lock's protection of
// the slot list only; callers must take a slot's own lock if they touch
// mutable fields. Used by the housekeeping tick's per-slot scan.
func (t *Table) Each(fn func(*Slot)) {
	t.mu.Lock()
	snapshot := make([]*Slot, len(t.slots))
	copy(snapshot, t.slots)
	t.mu.Unlock()

	for _, s := range snapshot {
		if s.State() != StateFree {
			fn(s)
		}
	}
}
