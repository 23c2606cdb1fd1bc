package dnsshim

import (
	"net"
	"testing"

	"github.com/simeonmiteff/ocproxy/internal/engine"
)

func TestResolveLiteralIsSynchronous(t *testing.T) {
	s := New()
	status, addr := s.Resolve("127.0.0.1", func(net.IP) {
		t.Fatal("callback should not be invoked for a literal address")
	})
	if status != engine.DNSOK {
		t.Fatalf("status = %v, want DNSOK", status)
	}
	if !addr.Equal(net.ParseIP("127.0.0.1")) {
		t.Fatalf("addr = %v, want 127.0.0.1", addr)
	}
}

func TestTickDrainsNothingWhenIdle(t *testing.T) {
	s := New()
	s.Tick() // must not block or panic with nothing pending
}
