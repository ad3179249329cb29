//go:build linux

package notify

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Signal is a Subscriber that raises SIGIO on process Pid, the way a
// character device with FASYNC set notifies its owner.
type Signal struct {
	Pid int
}

// Notify implements Subscriber.
func (s Signal) Notify(Event) error {
	if s.Pid <= 0 {
		return fmt.Errorf("notify: invalid pid %d", s.Pid)
	}
	if err := unix.Kill(s.Pid, unix.SIGIO); err != nil {
		return fmt.Errorf("notify: kill %d: %w", s.Pid, err)
	}
	return nil
}
