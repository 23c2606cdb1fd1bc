package socks5

import "testing"

func TestParseConnectIPv4OneShot(t *testing.T) {
	p := NewParser()
	msg := []byte{
		version5, 0x01, authNone, // greeting: 1 method, no-auth
		version5, cmdConnect, 0x00, atypIPv4,
		93, 184, 216, 34, // example.com-ish literal
		0x01, 0xbb, // port 443
	}
	consumed := p.Feed(msg)
	if consumed != len(msg) {
		t.Fatalf("consumed %d, want %d", consumed, len(msg))
	}
	if p.Stage() != StageDone {
		t.Fatalf("stage = %v, want StageDone, err=%v", p.Stage(), p.Err())
	}
	tgt := p.Target()
	if !tgt.IsIP || tgt.IP != [4]byte{93, 184, 216, 34} || tgt.Port != 443 {
		t.Fatalf("target = %+v", tgt)
	}
}

func TestParseConnectDomainByteAtATime(t *testing.T) {
	p := NewParser()
	msg := []byte{
		version5, 0x01, authNone,
		version5, cmdConnect, 0x00, atypDomain,
		7, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		0x00, 0x50,
	}
	for i, b := range msg {
		n := p.Feed([]byte{b})
		if n != 1 {
			t.Fatalf("byte %d: Feed consumed %d, want 1 (err=%v)", i, n, p.Err())
		}
	}
	if p.Stage() != StageDone {
		t.Fatalf("stage = %v, want StageDone, err=%v", p.Stage(), p.Err())
	}
	tgt := p.Target()
	if tgt.IsIP || tgt.Domain != "example" || tgt.Port != 80 {
		t.Fatalf("target = %+v", tgt)
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	p := NewParser()
	p.Feed([]byte{0x04})
	if p.Stage() != StageError {
		t.Fatalf("stage = %v, want StageError", p.Stage())
	}
	if p.Err() == nil {
		t.Fatal("expected non-nil Err()")
	}
	if p.FailKind() != FailMalformed {
		t.Fatalf("failKind = %v, want FailMalformed", p.FailKind())
	}
}

func TestParseRejectsUnsupportedCommand(t *testing.T) {
	p := NewParser()
	msg := []byte{
		version5, 0x01, authNone,
		version5, 0x02 /* BIND, not CONNECT */, 0x00, atypIPv4,
	}
	p.Feed(msg)
	if p.Stage() != StageError {
		t.Fatalf("stage = %v, want StageError", p.Stage())
	}
	if p.FailKind() != FailUnsupportedCommand {
		t.Fatalf("failKind = %v, want FailUnsupportedCommand", p.FailKind())
	}
}

func TestParseRejectsUnsupportedAddrType(t *testing.T) {
	p := NewParser()
	msg := []byte{
		version5, 0x01, authNone,
		version5, cmdConnect, 0x00, 0x04, // ATYP 0x04 (IPv6), unsupported
	}
	p.Feed(msg)
	if p.Stage() != StageError {
		t.Fatalf("stage = %v, want StageError", p.Stage())
	}
	if p.FailKind() != FailUnsupportedAddrType {
		t.Fatalf("failKind = %v, want FailUnsupportedAddrType", p.FailKind())
	}
}

func TestReplyLayout(t *testing.T) {
	r := Reply(ReplyOK, [4]byte{10, 0, 0, 1}, 9000)
	if len(r) != 10 {
		t.Fatalf("len(r) = %d, want 10", len(r))
	}
	if r[0] != version5 || r[1] != ReplyOK || r[3] != atypIPv4 {
		t.Fatalf("reply header = % x", r[:4])
	}
	if got := uint16(r[8])<<8 | uint16(r[9]); got != 9000 {
		t.Fatalf("port = %d, want 9000", got)
	}
}
