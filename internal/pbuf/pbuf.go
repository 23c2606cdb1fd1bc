// Package pbuf implements the packet-buffer contract used to shuttle bytes
// between the VPN endpoint and the TCP/IP engine: a non-empty chain of
// owned byte segments with a known total length.
package pbuf

import "errors"

// Kind distinguishes how a Buffer's storage came to be.
type Kind int

const (
	// Raw buffers capture an inbound IP datagram verbatim, read straight
	// off the VPN file descriptor.
	Raw Kind = iota
	// Pool buffers are allocated from the engine's bounded receive pool.
	Pool
)

// ErrEmptyChain is returned by New when asked to build a zero-length chain;
// the spec treats an empty pbuf chain as invalid at the type level.
var ErrEmptyChain = errors.New("pbuf: empty chain is invalid")

// segment is one link in the chain: a byte slice plus an optional next link.
type segment struct {
	data []byte
	next *segment
}

// Buffer is the head of a segment chain. The zero value is not valid; use
// New or NewFromBytes.
type Buffer struct {
	head   *segment
	tail   *segment
	total  int
	kind   Kind
	refs   *int32
}

// New allocates a single-segment Buffer of length n backed by a freshly
// allocated slice, for the caller to fill (typically via one os.File.Read).
func New(n int, kind Kind) *Buffer {
	s := &segment{data: make([]byte, n)}
	refs := int32(1)
	return &Buffer{head: s, tail: s, total: n, kind: kind, refs: &refs}
}

// NewFromBytes wraps an existing slice as a single-segment chain without
// copying. len(b) must be > 0.
func NewFromBytes(b []byte, kind Kind) (*Buffer, error) {
	if len(b) == 0 {
		return nil, ErrEmptyChain
	}
	s := &segment{data: b}
	refs := int32(1)
	return &Buffer{head: s, tail: s, total: len(b), kind: kind, refs: &refs}, nil
}

// Len returns the total length of the chain.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return b.total
}

// Kind reports whether this buffer is Raw or Pool.
func (b *Buffer) Kind() Kind {
	return b.kind
}

// Append chains other onto b, growing the total length. other must not be
// referenced again by its original owner once appended.
func (b *Buffer) Append(other *Buffer) {
	if other == nil || other.head == nil {
		return
	}
	b.tail.next = other.head
	b.tail = other.tail
	b.total += other.total
}

// IOSlices returns the chain as a slice of byte slices suitable for a
// gathered write (e.g. unix.Writev), without copying.
func (b *Buffer) IOSlices() [][]byte {
	if b == nil {
		return nil
	}
	out := make([][]byte, 0, 4)
	for s := b.head; s != nil; s = s.next {
		out = append(out, s.data)
	}
	return out
}

// NumSegments reports how many segments are chained, for the VPN write
// path's 16-segment cap check.
func (b *Buffer) NumSegments() int {
	n := 0
	for s := b.head; s != nil; s = s.next {
		n++
	}
	return n
}

// CopyOut copies up to len(dst) bytes starting at byte offset off in the
// chain into dst, returning the number of bytes copied. Used by the data
// pump to walk a received chain from done_len without mutating it.
func (b *Buffer) CopyOut(off int, dst []byte) int {
	if b == nil || off >= b.total {
		return 0
	}
	copied := 0
	skip := off
	for s := b.head; s != nil && copied < len(dst); s = s.next {
		if skip >= len(s.data) {
			skip -= len(s.data)
			continue
		}
		avail := len(s.data) - skip
		n := copy(dst[copied:], s.data[skip:])
		copied += n
		skip = 0
		if n < avail {
			// dst exhausted mid-segment
			break
		}
	}
	return copied
}

// Retain increments the chain's reference count, allowing a retransmission
// queue and the original owner to share storage without copying.
func (b *Buffer) Retain() *Buffer {
	*b.refs++
	return b
}

// Split produces two independent chains covering [0,n) and [n,total) of b,
// sharing underlying storage (the refcount is bumped, the original chain is
// left untouched) rather than copying bytes. Used when the engine needs to
// hold a prefix on a retransmit queue while the rest of the chain continues
// toward the application.
func (b *Buffer) Split(n int) (head, rest *Buffer, err error) {
	if n <= 0 || n >= b.total {
		return nil, nil, errors.New("pbuf: split point out of range")
	}

	var headSegs, restSegs []*segment
	offset := 0
	for s := b.head; s != nil; s = s.next {
		segStart, segEnd := offset, offset+len(s.data)
		switch {
		case segEnd <= n:
			headSegs = append(headSegs, &segment{data: s.data})
		case segStart >= n:
			restSegs = append(restSegs, &segment{data: s.data})
		default:
			at := n - segStart
			headSegs = append(headSegs, &segment{data: s.data[:at]})
			restSegs = append(restSegs, &segment{data: s.data[at:]})
		}
		offset = segEnd
	}

	head = chainFromSegments(headSegs, n, b.kind, b.refs)
	rest = chainFromSegments(restSegs, b.total-n, b.kind, b.refs)
	*b.refs++
	return head, rest, nil
}

func chainFromSegments(segs []*segment, total int, kind Kind, refs *int32) *Buffer {
	for i := 0; i+1 < len(segs); i++ {
		segs[i].next = segs[i+1]
	}
	return &Buffer{head: segs[0], tail: segs[len(segs)-1], total: total, kind: kind, refs: refs}
}

// Release decrements the refcount and frees the chain's last reference.
// Safe to call multiple times on each owning handle exactly once.
func (b *Buffer) Release() {
	if b == nil || b.refs == nil {
		return
	}
	*b.refs--
}
