package datapump

import (
	"net"
	"testing"
	"time"

	"github.com/simeonmiteff/ocproxy/internal/engine"
)

// fakeConn is the minimal engine.Conn stand-in needed to exercise Pump's
// write/would-block/retry logic without a real engine.
type fakeConn struct {
	written     []byte
	nextStatus  engine.WriteStatus
	closed      bool
	writeCalls  int
}

func (f *fakeConn) Connect(net.IP, uint16, func(), func(error)) error { return nil }
func (f *fakeConn) OnRecv(func(engine.RecvChain))                    {}
func (f *fakeConn) OnSent(func(int))                                  {}
func (f *fakeConn) Write(data []byte, copy bool) (engine.WriteStatus, error) {
	f.writeCalls++
	if f.nextStatus == engine.WriteWouldBlock {
		return engine.WriteWouldBlock, nil
	}
	f.written = append(f.written, data...)
	return engine.WriteOK, nil
}
func (f *fakeConn) Output() error                 { return nil }
func (f *fakeConn) SndBuf() int                   { return 65536 }
func (f *fakeConn) Recved(int)                    {}
func (f *fakeConn) LocalAddr() (net.IP, uint16)   { return nil, 0 }
func (f *fakeConn) SetKeepalive(a, b time.Duration) {}
func (f *fakeConn) DisableNagle()                 {}
func (f *fakeConn) Close() error                  { f.closed = true; return nil }
func (f *fakeConn) Notify() <-chan struct{}       { return nil }
func (f *fakeConn) Process()                      {}

type fakeChain struct{ b []byte }

func (c fakeChain) Len() int                    { return len(c.b) }
func (c fakeChain) CopyOut(off int, dst []byte) int { return copy(dst, c.b[off:]) }

func TestFeedWritesImmediatelyWhenNotBlocked(t *testing.T) {
	dst := &fakeConn{}
	p := New("test", NewEngineSink(dst))

	p.Feed(fakeChain{b: []byte("hello")})

	if string(dst.written) != "hello" {
		t.Fatalf("written = %q, want %q", dst.written, "hello")
	}
	if p.Blocked() {
		t.Fatal("pump should not be blocked")
	}
}

func TestFeedQueuesOnWouldBlockThenRetryFlushes(t *testing.T) {
	dst := &fakeConn{nextStatus: engine.WriteWouldBlock}
	p := New("test", NewEngineSink(dst))

	p.Feed(fakeChain{b: []byte("stalled")})
	if !p.Blocked() {
		t.Fatal("expected pump to be blocked after would-block write")
	}
	if len(dst.written) != 0 {
		t.Fatalf("nothing should have been written yet, got %q", dst.written)
	}

	dst.nextStatus = engine.WriteOK
	p.Retry()

	if p.Blocked() {
		t.Fatal("pump should have unblocked after retry")
	}
	if string(dst.written) != "stalled" {
		t.Fatalf("written = %q, want %q", dst.written, "stalled")
	}
}

func TestEOFClosesDstOnceDrained(t *testing.T) {
	dst := &fakeConn{}
	p := New("test", NewEngineSink(dst))

	p.Feed(fakeChain{b: []byte("x")})
	p.Feed(nil)

	if !dst.closed {
		t.Fatal("expected dst to be closed after EOF with nothing pending")
	}
}

func TestSocketSinkDeliversOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptedCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptedCh <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()
	server := <-acceptedCh
	defer server.Close()

	p := New("test", NewSocketSink(client))
	p.Feed(fakeChain{b: []byte("upstream bytes")})

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if string(buf[:n]) != "upstream bytes" {
		t.Fatalf("server read = %q, want %q", buf[:n], "upstream bytes")
	}
}

func TestWaitReadyReturnsImmediatelyWhenNotBlocked(t *testing.T) {
	dst := &fakeConn{}
	p := New("test", NewEngineSink(dst))

	stop := make(chan struct{})
	if !p.WaitReady(stop) {
		t.Fatal("expected WaitReady to return true when not blocked")
	}
}

func TestWaitReadyUnblocksOnStop(t *testing.T) {
	dst := &fakeConn{nextStatus: engine.WriteWouldBlock}
	p := New("test", NewEngineSink(dst))
	p.Feed(fakeChain{b: []byte("stalled")})

	stop := make(chan struct{})
	close(stop)
	if p.WaitReady(stop) {
		t.Fatal("expected WaitReady to return false once stop fires")
	}
}
