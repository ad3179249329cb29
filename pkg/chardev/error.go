package chardev

import (
	"errors"
	"fmt"

	"github.com/haivivi/globalfifo/pkg/fifo"
)

// Sentinel errors.
var (
	// ErrClosed is returned when the connection is gone.
	ErrClosed = errors.New("chardev: connection closed")

	// ErrBadHandle is returned for a handle that is not open on the session.
	ErrBadHandle = errors.New("chardev: bad handle")

	// ErrProtocol is returned for malformed or unexpected frames.
	ErrProtocol = errors.New("chardev: protocol error")
)

// Error codes carried in Frame.Err.
const (
	CodeAgain    = "EAGAIN"
	CodeIntr     = "EINTR"
	CodeNoDev    = "ENODEV"
	CodeInval    = "EINVAL"
	CodeBadF     = "EBADF"
	CodeShutdown = "ESHUTDOWN"
	CodeIO       = "EIO"
)

// errorCode maps a local error to its wire code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, fifo.ErrWouldBlock):
		return CodeAgain
	case errors.Is(err, fifo.ErrInterrupted):
		return CodeIntr
	case errors.Is(err, fifo.ErrNotFound):
		return CodeNoDev
	case errors.Is(err, fifo.ErrInvalidArgument):
		return CodeInval
	case errors.Is(err, ErrBadHandle):
		return CodeBadF
	case errors.Is(err, fifo.ErrClosed):
		return CodeShutdown
	default:
		return CodeIO
	}
}

// RemoteError is an error reported by the server.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chardev: remote error: %s (%s)", e.Code, e.Message)
	}
	return fmt.Sprintf("chardev: remote error: %s", e.Code)
}

// Unwrap returns the local sentinel matching the code, if any.
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeAgain:
		return fifo.ErrWouldBlock
	case CodeIntr:
		return fifo.ErrInterrupted
	case CodeNoDev:
		return fifo.ErrNotFound
	case CodeInval:
		return fifo.ErrInvalidArgument
	case CodeBadF:
		return ErrBadHandle
	case CodeShutdown:
		return fifo.ErrClosed
	default:
		return nil
	}
}
