package fifo

import "errors"

// Sentinel errors.
var (
	// ErrWouldBlock is returned by a non-blocking read on an empty device or
	// a non-blocking write on a full one.
	ErrWouldBlock = errors.New("fifo: operation would block")

	// ErrInterrupted is returned when a blocked call is canceled before its
	// condition became true. The device state is left untouched.
	ErrInterrupted = errors.New("fifo: interrupted")

	// ErrNotFound is returned for a device index outside the registry.
	ErrNotFound = errors.New("fifo: no such device")

	// ErrInvalidArgument is returned for an unsupported control command.
	ErrInvalidArgument = errors.New("fifo: invalid argument")

	// ErrClosed is returned once the registry or the file has been closed.
	ErrClosed = errors.New("fifo: closed")
)
