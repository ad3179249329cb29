package buffer

import "fmt"

// Linear is a fixed-capacity byte buffer with a current-length cursor.
//
// Unlike a ring buffer, Linear keeps its contents compacted at the front of
// the backing array: Consume moves the unread remainder down to offset zero.
// The buffered data is always one contiguous slice at the cost of a memmove
// per read.
//
// The zero value is not usable; create instances with NewLinear.
type Linear struct {
	buf []byte
	n   int
}

// NewLinear creates a Linear buffer that holds at most capacity bytes.
// It panics if capacity is not positive.
func NewLinear(capacity int) *Linear {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: invalid capacity %d", capacity))
	}
	return &Linear{buf: make([]byte, capacity)}
}

// Cap returns the fixed capacity.
func (l *Linear) Cap() int {
	return len(l.buf)
}

// Len returns the number of buffered bytes.
func (l *Linear) Len() int {
	return l.n
}

// Empty reports whether no bytes are buffered.
func (l *Linear) Empty() bool {
	return l.n == 0
}

// Full reports whether the buffer is at capacity.
func (l *Linear) Full() bool {
	return l.n == len(l.buf)
}

// Append copies as much of p as fits after the current length and returns
// the number of bytes copied. Bytes that do not fit are not stored; a short
// count is not an error.
func (l *Linear) Append(p []byte) int {
	n := copy(l.buf[l.n:], p)
	l.n += n
	return n
}

// Consume copies up to len(p) bytes from the front of the buffer into p,
// removes them, and returns the number of bytes copied.
//
// The remaining bytes are moved to the front of the backing array.
func (l *Linear) Consume(p []byte) int {
	n := copy(p, l.buf[:l.n])
	if n > 0 {
		copy(l.buf, l.buf[n:l.n])
		l.n -= n
	}
	return n
}

// Reset sets the length cursor to zero. The backing array is not wiped.
func (l *Linear) Reset() {
	l.n = 0
}
