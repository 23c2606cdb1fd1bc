package conntable

import "testing"

func TestAcquireReleaseRoundTrip(t *testing.T) {
	tbl := New(2)

	a, err := tbl.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	b, err := tbl.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tbl.InUse() != 2 {
		t.Fatalf("InUse() = %d, want 2", tbl.InUse())
	}

	if _, err := tbl.Acquire(); err != ErrTableFull {
		t.Fatalf("expected ErrTableFull, got %v", err)
	}

	tbl.Release(a)
	if tbl.InUse() != 1 {
		t.Fatalf("InUse() = %d, want 1", tbl.InUse())
	}

	c, err := tbl.Acquire()
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	if c.ID() != a.ID() {
		t.Fatalf("expected reused slot id %d, got %d", a.ID(), c.ID())
	}

	tbl.Release(b)
	tbl.Release(c)
	if tbl.InUse() != 0 {
		t.Fatalf("InUse() = %d, want 0", tbl.InUse())
	}
}

func TestDeferredReleaseWaitsForDNSCallback(t *testing.T) {
	tbl := New(1)

	s, err := tbl.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	tbl.SetState(s, StateDead)
	tbl.MarkAwaitingDNS(s)

	tbl.Release(s)
	if tbl.InUse() != 1 {
		t.Fatalf("slot released while DNS callback outstanding; InUse() = %d, want 1", tbl.InUse())
	}
	if s.State() != StateDead {
		t.Fatalf("State() = %v, want StateDead", s.State())
	}

	tbl.DNSCallbackDone(s)
	tbl.Release(s)
	if tbl.InUse() != 0 {
		t.Fatalf("InUse() = %d, want 0 after DNS callback cleared", tbl.InUse())
	}
}

func TestGenerationBumpsOnReuse(t *testing.T) {
	tbl := New(1)
	s, _ := tbl.Acquire()
	gen0 := s.Generation()
	tbl.Release(s)

	s2, _ := tbl.Acquire()
	if s2.Generation() == gen0 {
		t.Fatalf("expected generation to change across reuse, both were %d", gen0)
	}
}

func TestCorrelationIDChangesOnReuse(t *testing.T) {
	tbl := New(1)
	s, _ := tbl.Acquire()
	id0 := s.CorrelationID()
	if id0 == "" {
		t.Fatalf("expected non-empty correlation id")
	}
	tbl.Release(s)

	s2, _ := tbl.Acquire()
	if s2.CorrelationID() == id0 {
		t.Fatalf("expected a fresh correlation id across reuse, both were %q", id0)
	}
}

func TestEachSkipsFreeSlots(t *testing.T) {
	tbl := New(3)
	a, _ := tbl.Acquire()
	_, _ = tbl.Acquire()
	tbl.Release(a)

	seen := 0
	tbl.Each(func(s *Slot) { seen++ })
	if seen != 1 {
		t.Fatalf("Each visited %d slots, want 1", seen)
	}
}
