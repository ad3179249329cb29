// Package buffer provides the fixed-capacity byte storage used by the fifo
// devices.
//
// Linear is a bounded byte buffer with a length cursor. Data is appended at
// the cursor and consumed from the front; after each consume the remaining
// bytes are moved back to offset zero, so the buffered data is always one
// contiguous slice starting at index 0.
//
// Linear does no locking of its own. Callers that share a Linear between
// goroutines must guard every call with their own mutex.
//
// Example usage:
//
//	buf := buffer.NewLinear(4096)
//
//	n := buf.Append([]byte("hello")) // n == 5
//
//	p := make([]byte, 3)
//	n = buf.Consume(p) // n == 3, p == "hel", buf holds "lo"
//
//	buf.Reset() // buf.Len() == 0
package buffer
