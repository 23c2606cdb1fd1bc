package listener

import (
	"net"
	"testing"
	"time"
)

func TestListenAcceptsAndPostsConnection(t *testing.T) {
	out := make(chan Accepted, 1)
	l, err := Listen("test", "127.0.0.1:0", nil, out)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	select {
	case a := <-out:
		defer a.Conn.Close()
		if a.Forward != nil {
			t.Fatal("expected nil Forward for SOCKS5-style listener")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}

func TestListenTaggedWithForwardTarget(t *testing.T) {
	out := make(chan Accepted, 1)
	fwd := &ForwardTarget{Host: "10.0.0.1", Port: 80}
	l, err := Listen("fwd", "127.0.0.1:0", fwd, out)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	client, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	select {
	case a := <-out:
		defer a.Conn.Close()
		if a.Forward == nil || a.Forward.Host != "10.0.0.1" || a.Forward.Port != 80 {
			t.Fatalf("Forward = %+v", a.Forward)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted connection")
	}
}
