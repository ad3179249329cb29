//go:build !linux

package notify

// Signal is a Subscriber that raises SIGIO on process Pid. It is only
// implemented on Linux.
type Signal struct {
	Pid int
}

// Notify always returns ErrUnsupported on this platform.
func (s Signal) Notify(Event) error {
	return ErrUnsupported
}
