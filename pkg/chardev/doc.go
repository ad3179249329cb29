// Package chardev exposes a fifo.Registry to remote clients over WebSocket,
// standing in for the character-device nodes /dev/globalfifo0..N-1.
//
// Every WebSocket message is one msgpack-encoded Frame. A client opens a
// device by index and gets back a handle; reads, writes, control commands
// and flag changes then refer to that handle. Each request carries an ID and
// is answered by exactly one response frame with the same ID, so requests on
// one connection may run concurrently. A blocked read, write or poll can be
// interrupted by sending a cancel frame carrying the request's ID; it is
// answered with EINTR.
//
// When async notification is enabled on a handle (FlagAsync, the FASYNC
// equivalent) the server pushes an event frame for every write that stores
// data on the device. If the client also supplies a pid, SIGIO is raised on
// that process instead.
//
// Errors travel as errno-style codes and are turned back into the fifo
// sentinel errors by the client, so errors.Is(err, fifo.ErrWouldBlock) works
// the same on both sides.
//
// Example usage:
//
//	c, err := chardev.Dial(ctx, "ws://localhost:7880/dev")
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	f, err := c.Open(ctx, 0, chardev.FlagNonblock)
//	n, err := f.Write([]byte("hello"))
package chardev
