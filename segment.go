package stowaway

// Segment is a non-owning view over part of a larger buffer.
// It holds a reference to the backing buffer plus an offset and length, so the
// buffer stays alive for as long as any Segment derived from it does.
// Writes through Bytes are visible to every other view of the same buffer.
type Segment struct {
	buf []byte
	off int
	n   int
}

// NewSegment returns a view of length n starting at off within buf.
// It panics if the range lies outside buf, like a slice expression would.
func NewSegment(buf []byte, off, n int) Segment {
	_ = buf[off : off+n : len(buf)]
	return Segment{buf: buf, off: off, n: n}
}

// segmentOf returns a view covering all of b.
func segmentOf(b []byte) Segment {
	return Segment{buf: b, n: len(b)}
}

// Bytes returns the viewed bytes without copying.
// The result is capped so appending to it never overwrites the rest of the buffer.
func (s Segment) Bytes() []byte {
	if s.buf == nil {
		return nil
	}
	return s.buf[s.off : s.off+s.n : s.off+s.n]
}

// Copy returns an exclusively owned copy of the viewed bytes.
func (s Segment) Copy() []byte {
	out := make([]byte, s.n)
	copy(out, s.Bytes())
	return out
}

// Len returns the number of viewed bytes.
func (s Segment) Len() int {
	return s.n
}

// Offset returns the position of the view within its backing buffer.
func (s Segment) Offset() int {
	return s.off
}

// Array returns the backing buffer.
func (s Segment) Array() []byte {
	return s.buf
}

// IsZero reports whether the segment has no backing buffer.
func (s Segment) IsZero() bool {
	return s.buf == nil
}
