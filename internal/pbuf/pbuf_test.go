package pbuf

import (
	"bytes"
	"testing"
)

func TestNewFromBytesRejectsEmpty(t *testing.T) {
	if _, err := NewFromBytes(nil, Raw); err != ErrEmptyChain {
		t.Fatalf("expected ErrEmptyChain, got %v", err)
	}
	if _, err := NewFromBytes([]byte{}, Raw); err != ErrEmptyChain {
		t.Fatalf("expected ErrEmptyChain, got %v", err)
	}
}

func TestAppendGrowsLength(t *testing.T) {
	a, _ := NewFromBytes([]byte("hello "), Pool)
	b, _ := NewFromBytes([]byte("world"), Pool)
	a.Append(b)

	if got, want := a.Len(), len("hello world"); got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	if got := a.NumSegments(); got != 2 {
		t.Fatalf("NumSegments() = %d, want 2", got)
	}

	out := make([]byte, a.Len())
	if n := a.CopyOut(0, out); n != len(out) {
		t.Fatalf("CopyOut copied %d, want %d", n, len(out))
	}
	if !bytes.Equal(out, []byte("hello world")) {
		t.Fatalf("CopyOut = %q, want %q", out, "hello world")
	}
}

func TestCopyOutFromOffset(t *testing.T) {
	buf, _ := NewFromBytes([]byte("0123456789"), Pool)
	out := make([]byte, 4)
	n := buf.CopyOut(3, out)
	if n != 4 || string(out) != "3456" {
		t.Fatalf("CopyOut(3, ...) = %q (n=%d), want %q", out, n, "3456")
	}
}

func TestIOSlicesMatchesSegments(t *testing.T) {
	a, _ := NewFromBytes([]byte("ab"), Raw)
	b, _ := NewFromBytes([]byte("cd"), Raw)
	c, _ := NewFromBytes([]byte("ef"), Raw)
	a.Append(b)
	a.Append(c)

	slices := a.IOSlices()
	if len(slices) != 3 {
		t.Fatalf("IOSlices() len = %d, want 3", len(slices))
	}
	var joined []byte
	for _, s := range slices {
		joined = append(joined, s...)
	}
	if string(joined) != "abcdef" {
		t.Fatalf("joined slices = %q, want %q", joined, "abcdef")
	}
}

func TestSplitPreservesBothHalves(t *testing.T) {
	buf, _ := NewFromBytes([]byte("abcdefgh"), Pool)

	head, rest, err := buf.Split(3)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if head.Len() != 3 || rest.Len() != 5 {
		t.Fatalf("Split(3) lengths = %d,%d want 3,5", head.Len(), rest.Len())
	}

	gotHead := make([]byte, head.Len())
	head.CopyOut(0, gotHead)
	gotRest := make([]byte, rest.Len())
	rest.CopyOut(0, gotRest)

	if string(gotHead) != "abc" || string(gotRest) != "defgh" {
		t.Fatalf("Split(3) = %q / %q, want %q / %q", gotHead, gotRest, "abc", "defgh")
	}
}

func TestSplitAcrossSegmentBoundary(t *testing.T) {
	a, _ := NewFromBytes([]byte("abc"), Pool)
	b, _ := NewFromBytes([]byte("defgh"), Pool)
	a.Append(b)

	head, rest, err := a.Split(4)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	gotHead := make([]byte, head.Len())
	head.CopyOut(0, gotHead)
	gotRest := make([]byte, rest.Len())
	rest.CopyOut(0, gotRest)
	if string(gotHead) != "abcd" || string(gotRest) != "efgh" {
		t.Fatalf("Split(4) = %q / %q, want %q / %q", gotHead, gotRest, "abcd", "efgh")
	}
}

func TestSplitRejectsOutOfRange(t *testing.T) {
	buf, _ := NewFromBytes([]byte("abc"), Pool)
	if _, _, err := buf.Split(0); err == nil {
		t.Fatal("expected error splitting at 0")
	}
	if _, _, err := buf.Split(3); err == nil {
		t.Fatal("expected error splitting at full length")
	}
}
