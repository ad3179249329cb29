// Package fifo implements a set of independent, bounded byte FIFOs with
// blocking I/O, readiness polling and asynchronous notification.
//
// A Registry owns a fixed number of Devices created together at start-up.
// Each Device holds a buffer.Linear guarded by its own mutex and two
// condition variables, one signaled when the buffer becomes readable and one
// when it becomes writable. There is no lock shared between devices and no
// operation ever holds two device locks at once.
//
// Reads and writes transfer as much as they can and return the count; a
// short transfer is a success. When the buffer is empty (read) or full
// (write) a call either fails with ErrWouldBlock (non-blocking mode) or
// sleeps until the state changes, the context is canceled (ErrInterrupted)
// or the registry is closed (ErrClosed). Sleepers always re-check their
// predicate after waking.
//
// Poll waits on several devices at once. For each device the readiness
// check and the registration of the waiter happen under that device's lock,
// so a state change between the two cannot be missed.
//
// Every write that stores at least one byte raises a notify.DataAvailable
// event to all subscribers of the device.
//
// Example usage:
//
//	reg := fifo.New(fifo.Options{Devices: 8, Capacity: 4096})
//	defer reg.Close()
//
//	f, _ := reg.Open(0)
//	f.Write([]byte("hello"))
//
//	p := make([]byte, 16)
//	n, _ := f.Read(p) // n == 5
package fifo
